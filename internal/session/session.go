package session

import (
	"strconv"
	"time"
)

// Session is the server-side state attached to one browser cookie.
type Session struct {
	Key       string
	Values    map[string]any
	ExpiresAt time.Time

	isNew    bool
	modified bool
}

func (s *Session) IsNew() bool {
	return s.isNew
}

// Modified reports whether Set or Delete was called since the last save.
func (s *Session) Modified() bool {
	return s.modified
}

func (s *Session) Get(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

func (s *Session) Set(key string, value any) {
	if s.Values == nil {
		s.Values = map[string]any{}
	}
	s.Values[key] = value
	s.modified = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.modified = true
	}
}

// Clear drops every value, e.g. on logout.
func (s *Session) Clear() {
	s.Values = map[string]any{}
	s.modified = true
}

// GetInt reads an integer value whatever numeric form the decoder produced.
func (s *Session) GetInt(key string) (int64, bool) {
	switch v := s.Values[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Values[key].(string)
	return v, ok
}
