package tts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ClipCache holds synthesized clips until the telephony provider fetches them.
type ClipCache struct {
	synth Synthesizer
	clips *expirable.LRU[string, []byte]
}

// NewClipCache keeps up to size clips for ttl each.
func NewClipCache(synth Synthesizer, size int, ttl time.Duration) *ClipCache {
	return &ClipCache{
		synth: synth,
		clips: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Speak synthesizes text and returns the id the clip is stored under.
func (c *ClipCache) Speak(ctx context.Context, text string) (string, error) {
	audio, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	return c.Put(audio), nil
}

// Put stores audio under a fresh id.
func (c *ClipCache) Put(audio []byte) string {
	id := uuid.NewString()
	c.clips.Add(id, audio)
	return id
}

// Get returns the clip stored under id.
func (c *ClipCache) Get(id string) ([]byte, bool) {
	return c.clips.Get(id)
}

// Len returns the number of live clips.
func (c *ClipCache) Len() int {
	return c.clips.Len()
}
