package mcp

// Tool input and output schemas for the stdio tool surface.

// CreateIndexInput carries only the optional file-limit confirmation; the
// project is fixed at startup.
type CreateIndexInput struct {
	Confirm bool `json:"confirm,omitempty" jsonschema:"confirm indexing past the configured file limit"`
}

// CreateIndexOutput reports a completed create or reindex run.
type CreateIndexOutput struct {
	Status        string `json:"status" jsonschema:"created; failures are returned as tool errors"`
	FilesIndexed  int    `json:"filesIndexed" jsonschema:"number of files indexed"`
	ChunksCreated int    `json:"chunksCreated" jsonschema:"number of chunks written to the store"`
	Duration      string `json:"duration" jsonschema:"wall-clock duration of the run"`
}

// SearchCodeInput is the query for similarity search.
type SearchCodeInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results, 1-50, default 10"`
}

// SearchCodeResult is one similarity hit.
type SearchCodeResult struct {
	Path      string  `json:"path" jsonschema:"file path relative to the project root"`
	Snippet   string  `json:"snippet" jsonschema:"matched chunk text"`
	StartLine int     `json:"startLine" jsonschema:"first line of the chunk, 1-indexed"`
	EndLine   int     `json:"endLine" jsonschema:"last line of the chunk, inclusive"`
	Score     float64 `json:"score" jsonschema:"similarity score between 0 and 1"`
}

// SearchCodeOutput is the similarity search response.
type SearchCodeOutput struct {
	Results      []SearchCodeResult `json:"results"`
	TotalResults int                `json:"totalResults"`
	SearchTimeMs int64              `json:"searchTimeMs"`
}

// SearchByPathInput is the path glob query.
type SearchByPathInput struct {
	Pattern string `json:"pattern" jsonschema:"path glob, e.g. src/**/*.ts"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum matches, 1-100, default 20"`
}

// SearchByPathOutput lists matching indexed paths.
type SearchByPathOutput struct {
	Matches      []string `json:"matches"`
	TotalMatches int      `json:"totalMatches"`
}

// IndexStatusInput has no parameters.
type IndexStatusInput struct{}

// IndexStatusStats mirrors the metadata statistics.
type IndexStatusStats struct {
	TotalFiles       int   `json:"totalFiles"`
	TotalChunks      int   `json:"totalChunks"`
	StorageSizeBytes int64 `json:"storageSizeBytes"`
	FailedEmbeddings int   `json:"failedEmbeddings,omitempty"`
}

// IndexStatusOutput reports index health.
type IndexStatusOutput struct {
	Status        string           `json:"status" jsonschema:"complete, in_progress, or failed"`
	Stats         IndexStatusStats `json:"stats"`
	LastUpdated   string           `json:"lastUpdated,omitempty"`
	WatcherActive bool             `json:"watcherActive"`
	Error         string           `json:"error,omitempty"`
}

// ReindexFileInput names the file to reindex.
type ReindexFileInput struct {
	Path string `json:"path" jsonschema:"project-relative path of the file"`
}

// ReindexFileOutput reports a single-file reindex.
type ReindexFileOutput struct {
	Status        string `json:"status" jsonschema:"reindexed or unchanged"`
	Path          string `json:"path"`
	ChunksCreated int    `json:"chunksCreated"`
}

// DeleteIndexInput carries the explicit confirmation. Absent or null means
// cancelled, never deleted.
type DeleteIndexInput struct {
	Confirm *bool `json:"confirm,omitempty" jsonschema:"must be explicitly true to delete"`
}

// DeleteIndexOutput reports the delete outcome.
type DeleteIndexOutput struct {
	Status      string `json:"status" jsonschema:"deleted or cancelled"`
	ProjectPath string `json:"projectPath,omitempty"`
	Message     string `json:"message,omitempty"`
}
