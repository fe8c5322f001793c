/*
Package observability exposes Prometheus metrics for release runs.

Metrics are fed by domain.LifecycleHooks and are kept in a private registry,
so a CLI invocation can dump them to a node_exporter textfile on exit.
*/
package observability
