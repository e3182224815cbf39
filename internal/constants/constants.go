// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort              = "8080"
	DefaultConcurrency       = 4
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultRetryCount        = 3
	DefaultRetryBase         = 500 * time.Millisecond
	DefaultRetryMax          = 10 * time.Second
	DefaultRetryMultiplier   = 2.0
	DefaultQuotaBudget       = 10000
	DefaultRequestsPerSecond = 4
	DefaultBackupRetention   = 30 * 24 * time.Hour
	DefaultAnnotateLimit     = 25
	DefaultRetryCeiling      = 3
	DefaultModel             = "gpt-4o-mini"
)

// YouTube Data API
const (
	YouTubeAPIBase    = "https://www.googleapis.com/youtube/v3"
	YouTubeReadScope  = "https://www.googleapis.com/auth/youtube.readonly"
	MaxResultsPerPage = 50
	MaxIDsPerCall     = 50
)

// Quota unit costs per endpoint
const (
	CostPlaylistsList     = 1
	CostPlaylistItemsList = 1
	CostVideosList        = 1
)

// File and directory names under the data dir
const (
	LibraryFile      = "library.json"
	SourcesFile      = "sources.json"
	LegacyDBFile     = "tubecrate.db"
	ClientSecretFile = "client_secret.json"
	TokenFile        = "token.json"
	BackupsDir       = "backups"
	LegacyDir        = "legacy"
	BackupTimeFormat = "20060102-150405"
)

// Schema versions
const (
	LibrarySchemaVersion = 2
	SourcesSchemaVersion = 1
)

// Annotation service
const (
	AnnotateMaxTokens     = 1024
	AnnotateTemperature   = 0.1
	PlaceholderConfidence = 0.1
	RepairedConfidenceCap = 0.6
)

// Source priorities
const (
	MinPriority = 1
	MaxPriority = 5
)

// File permissions
const (
	DirPermissions    = 0755
	FilePermissions   = 0644
	SecretPermissions = 0600
)

// HTTP API
const (
	MaxListResults = 100
)
