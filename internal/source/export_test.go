package source

// Test hooks for pointing sources at httptest servers.

// SetAPIBase overrides the Algolia endpoint.
func (s *HackerNews) SetAPIBase(base string) { s.apiBase = base }

// SetAPIBase overrides the GitHub API endpoint.
func (s *GitHub) SetAPIBase(base string) { s.apiBase = base }

// SetAPIBase overrides the Reddit endpoint.
func (s *Reddit) SetAPIBase(base string) { s.apiBase = base }
