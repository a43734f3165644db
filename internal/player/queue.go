package player

import (
	"math/rand"

	"github.com/desertthunder/tunelink/internal/models"
)

// Queue is a FIFO track queue. It is not safe for concurrent use; the owning
// Player serializes access.
type Queue struct {
	tracks []models.Track
}

// Add appends a track to the tail of the queue.
func (q *Queue) Add(t models.Track) {
	q.tracks = append(q.tracks, t)
}

// AddFront inserts a track at the head of the queue.
func (q *Queue) AddFront(t models.Track) {
	q.tracks = append([]models.Track{t}, q.tracks...)
}

// Next pops the head of the queue.
func (q *Queue) Next() (models.Track, bool) {
	if len(q.tracks) == 0 {
		return models.Track{}, false
	}
	t := q.tracks[0]
	q.tracks = q.tracks[1:]
	return t, true
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Tracks returns a copy of the queue in order.
func (q *Queue) Tracks() []models.Track {
	cp := make([]models.Track, len(q.tracks))
	copy(cp, q.tracks)
	return cp
}

// Replace swaps the queue contents wholesale, preserving the given order.
func (q *Queue) Replace(tracks []models.Track) {
	q.tracks = make([]models.Track, len(tracks))
	copy(q.tracks, tracks)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.tracks = nil
}

// Shuffle randomizes the queue order with a uniform Fisher-Yates pass.
func (q *Queue) Shuffle() {
	for i := len(q.tracks) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	}
}

// Move relocates the track at from to position to. An out-of-range index
// leaves the queue unchanged; that is documented policy, not an error.
func (q *Queue) Move(from, to int) {
	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return
	}
	t := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]models.Track{t}, q.tracks[to:]...)...)
}

// Remove deletes the track at index i. An out-of-range index is a no-op.
func (q *Queue) Remove(i int) {
	if i < 0 || i >= len(q.tracks) {
		return
	}
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
}
