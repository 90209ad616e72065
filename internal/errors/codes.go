// Package errors provides structured error handling for Quarry. Codes are
// ERR_XXX_DESCRIPTION, with the leading digit of XXX selecting the
// category: 1 config, 2 IO/integrity, 3 backend, 4 validation, 5 internal,
// 6 dataset access.
package errors

// Category classifies errors for reporting and handling decisions.
type Category string

const (
	CategoryConfig     Category = "CONFIG"     // configuration files and values
	CategoryIO         Category = "IO"         // files, disk, index integrity
	CategoryBackend    Category = "BACKEND"    // embedder, reranker, stores
	CategoryValidation Category = "VALIDATION" // bad input
	CategoryInternal   Category = "INTERNAL"   // bugs and unexpected states
	CategoryAccess     Category = "ACCESS"     // dataset visibility violations
)

// Severity grades how a caller should react.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"   // abort the operation
	SeverityError   Severity = "ERROR"   // operation failed, process continues
	SeverityWarning Severity = "WARNING" // degraded, continuing
	SeverityInfo    Severity = "INFO"
)

const (
	// 1XX config
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// 2XX IO and integrity
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull         = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge     = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeIntegrity        = "ERR_206_INTEGRITY"
	ErrCodeOrphanedVectors  = "ERR_207_ORPHANED_VECTORS"
	ErrCodeStoreUnavailable = "ERR_208_STORE_UNAVAILABLE"

	// 3XX backend, transient and retryable
	ErrCodeBackendTimeout      = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable  = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeEmbedderUnavailable = "ERR_303_EMBEDDER_UNAVAILABLE"
	ErrCodeRerankerUnavailable = "ERR_304_RERANKER_UNAVAILABLE"

	// 4XX validation
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath       = "ERR_405_INVALID_PATH"
	ErrCodeUnknownDataset    = "ERR_406_UNKNOWN_DATASET"

	// 5XX internal
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed      = "ERR_502_EMBEDDING_FAILED"
	ErrCodeChunkingFailed       = "ERR_503_CHUNKING_FAILED"
	ErrCodeSyncFailed           = "ERR_504_SYNC_FAILED"
	ErrCodeRetrievalUnavailable = "ERR_505_RETRIEVAL_UNAVAILABLE"
	ErrCodeWatcherFailed        = "ERR_506_WATCHER_FAILED"

	// 6XX access
	ErrCodeDatasetDenied = "ERR_601_DATASET_DENIED"
)

var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryIO,
	'3': CategoryBackend,
	'4': CategoryValidation,
	'5': CategoryInternal,
	'6': CategoryAccess,
}

// categoryFromCode maps "ERR_2xx_..." to its category by the leading digit.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	if cat, ok := categoryByDigit[code[4]]; ok {
		return cat
	}
	return CategoryInternal
}

func severityFromCode(code string) Severity {
	switch {
	case code == ErrCodeCorruptIndex, code == ErrCodeDiskFull, code == ErrCodeIntegrity:
		return SeverityFatal
	case isRetryableCode(code):
		// transient backend failures degrade the query, they don't fail it
		return SeverityWarning
	default:
		return SeverityError
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable,
		ErrCodeEmbedderUnavailable, ErrCodeRerankerUnavailable,
		ErrCodeStoreUnavailable:
		return true
	}
	return false
}
