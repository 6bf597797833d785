// Package adapter defines the unified data-access contract shared by every
// storage backend and by the backend selector.
//
// The contract is deliberately symmetric: the PostgreSQL adapter, the MongoDB
// adapter and the Selector all implement Store, so application code can be
// pointed at a single backend or at the routed, health-aware front without
// changing call sites.
//
// Operation results are carried in Result values rather than returned as
// errors. An adapter never lets an engine error escape the Store boundary;
// failures travel inside Result.Error with Result.Success == false. The only
// exceptions are the lifecycle methods (Connect, Disconnect, HealthCheck) and
// Subscribe, which follow ordinary Go error returns.
package adapter
