// package pool manages the set of engine instances and the per-tenant
// players bound to them: health-scored node selection, voice packet routing,
// failover re-homing, and snapshot persistence.
package pool
