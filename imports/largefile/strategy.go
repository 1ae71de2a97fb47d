package largefile

type Strategy string

const (
	StrategyInline        Strategy = "inline"
	StrategyChunkedUpload Strategy = "chunked_upload"
	StrategyStreaming     Strategy = "streaming"
	StrategyAsyncWorker   Strategy = "async_worker"
)

const mb = 1024 * 1024

// SelectStrategy recommends how a file of sizeBytes should be handled. It is
// advice for callers; nothing enforces it.
func SelectStrategy(sizeBytes int64) Strategy {
	switch {
	case sizeBytes < 10*mb:
		return StrategyInline
	case sizeBytes < 50*mb:
		return StrategyChunkedUpload
	case sizeBytes < 100*mb:
		return StrategyStreaming
	}
	return StrategyAsyncWorker
}
