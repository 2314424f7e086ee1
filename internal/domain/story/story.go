// Package story provides the Story domain entity.
package story

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Story represents a story record supplied by the library.
// AudioRef stays empty until the text-to-speech step has produced audio.
type Story struct {
	ID          string    `json:"id" yaml:"id"`
	Text        string    `json:"text" yaml:"text"`
	StoryType   string    `json:"storyType" yaml:"story_type"`
	CustomTopic string    `json:"customTopic,omitempty" yaml:"custom_topic,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"created_at"`
	Favorite    bool      `json:"favorite" yaml:"favorite"`
	AudioRef    string    `json:"audioRef,omitempty" yaml:"audio_ref,omitempty"`
}

// Patch describes an edit to a story. Nil fields are left untouched.
type Patch struct {
	Text        *string `json:"text,omitempty"`
	StoryType   *string `json:"storyType,omitempty"`
	CustomTopic *string `json:"customTopic,omitempty"`
	Favorite    *bool   `json:"favorite,omitempty"`
}

const titleMaxRunes = 48

// Playable reports whether the story has an audio reference.
func (s *Story) Playable() bool {
	return s.AudioRef != ""
}

// Differs reports whether any field of o differs from s.
func (s *Story) Differs(o Story) bool {
	return s.ID != o.ID ||
		s.Text != o.Text ||
		s.StoryType != o.StoryType ||
		s.CustomTopic != o.CustomTopic ||
		!s.CreatedAt.Equal(o.CreatedAt) ||
		s.Favorite != o.Favorite ||
		s.AudioRef != o.AudioRef
}

// Apply applies the patch in place.
func (s *Story) Apply(p Patch) {
	if p.Text != nil {
		s.Text = *p.Text
	}
	if p.StoryType != nil {
		s.StoryType = *p.StoryType
	}
	if p.CustomTopic != nil {
		s.CustomTopic = *p.CustomTopic
	}
	if p.Favorite != nil {
		s.Favorite = *p.Favorite
	}
}

// Title returns a short single-line label for the story.
func (s *Story) Title() string {
	line := strings.TrimSpace(s.Text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		if s.CustomTopic != "" {
			return s.CustomTopic
		}
		return s.ID
	}
	if utf8.RuneCountInString(line) <= titleMaxRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:titleMaxRunes-1]) + "…"
}

// IDs returns the IDs of the given stories in order.
func IDs(stories []Story) []string {
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	return ids
}

// ByID indexes stories by ID. Later duplicates win.
func ByID(stories []Story) map[string]Story {
	m := make(map[string]Story, len(stories))
	for _, s := range stories {
		m[s.ID] = s
	}
	return m
}
