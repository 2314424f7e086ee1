package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sahilm/fuzzy"

	"github.com/osa030/storybox/internal/domain/story"
)

// storySource adapts a story list for fuzzy matching on id and title.
type storySource []story.Story

func (s storySource) String(i int) string {
	return s[i].ID + " " + s[i].Title()
}

func (s storySource) Len() int {
	return len(s)
}

// resolveStory maps a user argument to a story ID. An exact ID wins;
// otherwise the best fuzzy match over id and title is used.
func resolveStory(stories []story.Story, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("story argument is empty")
	}
	for _, s := range stories {
		if s.ID == arg {
			return s.ID, nil
		}
	}

	matches := fuzzy.FindFrom(arg, storySource(stories))
	if len(matches) == 0 {
		return "", errors.Newf("no story matches %q", arg)
	}
	return stories[matches[0].Index].ID, nil
}
