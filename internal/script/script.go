// Package script loads narration scripts from YAML files and watches them
// for edits.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/normanking/talkingavatar/internal/narration"
)

// ErrEmptyScript is returned for scripts without any text.
var ErrEmptyScript = errors.New("script has no segments")

// Script is a narration script file
type Script struct {
	Title    string    `yaml:"title,omitempty"`
	Lang     string    `yaml:"lang,omitempty"`
	Voice    string    `yaml:"voice,omitempty"`
	Media    *MediaRef `yaml:"media,omitempty"`
	Segments []string  `yaml:"segments"`
}

// MediaRef optionally names the avatar that narrates the script
type MediaRef struct {
	Source        string `yaml:"source"`
	FallbackImage string `yaml:"fallback_image,omitempty"`
	Kind          string `yaml:"kind,omitempty"`
}

// Parse decodes a YAML script. Blank segments are dropped.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	segments := s.Segments[:0]
	for _, text := range s.Segments {
		if text = strings.TrimSpace(text); text != "" {
			segments = append(segments, text)
		}
	}
	s.Segments = segments
	if len(s.Segments) == 0 {
		return nil, ErrEmptyScript
	}
	return &s, nil
}

// LoadFile reads and parses a script file
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// NarrationSegments converts the script to sequencer segments
func (s *Script) NarrationSegments() []narration.Segment {
	return narration.NewSegments(s.Segments)
}

// ApplyVoice overrides params with the script's language and voice
func (s *Script) ApplyVoice(params narration.VoiceParams) narration.VoiceParams {
	if s.Lang != "" {
		params.Lang = s.Lang
	}
	if s.Voice != "" {
		params.Voice = s.Voice
	}
	return params
}
