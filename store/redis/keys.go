package redis

// Redis key naming conventions for signoff data.
// All keys are prefixed with "signoff:" to avoid collisions.

const keyPrefix = "signoff:"

// ── Version keys ──

// versionKey returns the key for a version record: signoff:version:{id}
func versionKey(id string) string { return keyPrefix + "version:" + id }

// successorKey stores the ID of the version that superseded id.
func successorKey(id string) string { return keyPrefix + "version_next:" + id }

// headKey stores the ID of a group's latest version.
func headKey(groupID string) string { return keyPrefix + "group_head:" + groupID }

// groupVersionsKey is a Sorted Set of a group's version IDs scored by number.
func groupVersionsKey(groupID string) string { return keyPrefix + "group_versions:" + groupID }

// versionIDsKey is a Sorted Set of every version ID scored by creation time.
const versionIDsKey = keyPrefix + "version_ids"

// ── Task keys ──

// taskKey returns the key for a task record: signoff:task:{id}
func taskKey(id string) string { return keyPrefix + "task:" + id }

// pendingTaskKey holds the ID of a version's pending task, if any.
func pendingTaskKey(versionID string) string { return keyPrefix + "task_pending:" + versionID }

// taskIDsKey is a Sorted Set of every task ID scored by creation time.
const taskIDsKey = keyPrefix + "task_ids"

// ── Audit keys ──

// entryKey returns the key for an audit entry: signoff:entry:{id}
func entryKey(id string) string { return keyPrefix + "entry:" + id }

// entrySeqKey is the counter that assigns audit sequence numbers.
const entrySeqKey = keyPrefix + "entry_seq"

// entryIDsKey is a Sorted Set of every entry ID scored by sequence.
const entryIDsKey = keyPrefix + "entry_ids"

// versionEntriesKey indexes the entries of one workflow version by sequence.
func versionEntriesKey(versionID string) string { return keyPrefix + "version_entries:" + versionID }

// groupEntriesKey indexes the entries of one group by sequence.
func groupEntriesKey(groupID string) string { return keyPrefix + "group_entries:" + groupID }

// ── Compensation keys ──

// compensationKey returns the key for a compensation record.
func compensationKey(id string) string { return keyPrefix + "compensation:" + id }

// compensationSeqKey orders compensation records by insertion.
const compensationSeqKey = keyPrefix + "compensation_seq"

// compensationIDsKey is a Sorted Set of compensation IDs scored by insertion.
const compensationIDsKey = keyPrefix + "compensation_ids"

// ── Wait keys ──

// waitKey returns the key for a wait record: signoff:wait:{correlation key}
func waitKey(key string) string { return keyPrefix + "wait:" + key }

// openWaitsKey is a Sorted Set of open wait keys scored by deadline.
const openWaitsKey = keyPrefix + "waits_open"

// ── Workflow keys ──

// runKey returns the key for a workflow run entity: signoff:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is a Sorted Set of every run ID scored by creation time.
const runIDsKey = keyPrefix + "run_ids"

// checkpointKey returns the Hash holding a run's checkpoints by step name.
func checkpointKey(runID string) string { return keyPrefix + "checkpoint:" + runID }

// checkpointIndexKey returns the Sorted Set ordering a run's checkpoints.
func checkpointIndexKey(runID string) string { return keyPrefix + "checkpoint_idx:" + runID }

// checkpointSeqKey orders checkpoints by first save.
const checkpointSeqKey = keyPrefix + "checkpoint_seq"
