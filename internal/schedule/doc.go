// Package schedule decides when scripts run.
//
// # Overview
//
// Each active script gets at most one armed trigger: a cancellable timer for
// the earliest of its one-time start and its next periodic instant. Firing
// hands the script to the runner through the execution registry's claim, so
// scheduled firings and manual "run now" requests race safely; the loser is
// skipped and logged, never queued.
//
// # Next-run computation
//
// NextRun is a pure function over (schedule, last run, creation instant, now).
// Periodic candidates step by value*unit from the anchor, honor the weekday
// filter (ISO numbering, 0=Monday..6=Sunday; an empty or full set means
// unrestricted), and are gated behind a still-pending one-time start.
//
// # Lifecycle
//
// Enable/Disable/OnConfigChanged re-arm or cancel a script's trigger at
// runtime. Disabling never stops an in-flight run. After every run the engine
// recomputes from the new last_run; a script with nothing ahead of it is
// deactivated, matching the one-shot semantics of a bare scheduled start.
package schedule
