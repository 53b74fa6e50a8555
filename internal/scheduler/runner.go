package scheduler

import (
	"log"
	"sync"
	"time"
)

// Task is one schedulable unit: a name, its compiled schedule, and the
// function to invoke when it fires.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func() error
}

// Runner drives a declared-order set of Tasks against a Store, honoring
// the fairness rule from spec.md §4.2: tasks that fire in the same tick
// run in declared order, and a task already running is skipped (no
// preemption) until its previous run completes.
type Runner struct {
	store   *Store
	tasks   []Task
	running sync.Map // task name -> bool
}

// NewRunner returns a Runner over tasks in declared order.
func NewRunner(store *Store, tasks []Task) *Runner {
	return &Runner{store: store, tasks: tasks}
}

// Tick evaluates every task against now and runs the ones whose schedule
// fires and that are not already running.
func (r *Runner) Tick(now time.Time) {
	for _, t := range r.tasks {
		last, err := r.store.LastRun(t.Name)
		if err != nil {
			log.Printf("scheduler: %s: reading last-run: %v", t.Name, err)
			continue
		}
		if _, fires := t.Schedule.NextFire(now, last); !fires {
			continue
		}
		if _, alreadyRunning := r.running.LoadOrStore(t.Name, true); alreadyRunning {
			log.Printf("scheduler: %s: previous run still in flight, skipping tick", t.Name)
			continue
		}
		r.runOne(t, now)
	}
}

func (r *Runner) runOne(t Task, now time.Time) {
	defer r.running.Delete(t.Name)
	err := t.Run()
	if err != nil {
		log.Printf("scheduler: %s: run failed: %v", t.Name, err)
	}
	if recErr := r.store.RecordRun(t.Name, err == nil, now); recErr != nil {
		log.Printf("scheduler: %s: recording last-run: %v", t.Name, recErr)
	}
}
