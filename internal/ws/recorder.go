package ws

import (
	"log"
	"sync"
)

// Applies archive writes in order on its own goroutine so the hub never
// waits on disk. A full queue drops the write.
type recorder struct {
	archive Archive
	jobs    chan func(Archive) error
	wg      sync.WaitGroup
}

func newRecorder(archive Archive, queue int) *recorder {
	r := &recorder{
		archive: archive,
		jobs:    make(chan func(Archive) error, queue),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *recorder) run() {
	defer r.wg.Done()
	for job := range r.jobs {
		if err := job(r.archive); err != nil {
			log.Printf("⚠️ Archive write failed: %v", err)
		}
	}
}

func (r *recorder) enqueue(job func(Archive) error) {
	select {
	case r.jobs <- job:
	default:
		log.Println("⚠️ Archive queue full, dropping write")
	}
}

// Waits for queued writes to finish. No enqueue may follow.
func (r *recorder) close() {
	close(r.jobs)
	r.wg.Wait()
}
