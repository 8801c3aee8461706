package downloads

// Stage names the phase a Progress update belongs to.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageComplete    Stage = "complete"
)

// Progress reports how far a download or extraction has come. Total is -1
// when unknown.
type Progress struct {
	Stage Stage
	Name  string
	Done  int64
	Total int64
}

// Percent returns Done/Total in percent, or 0 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}

// ProgressCallback is a function called to report progress.
type ProgressCallback func(Progress)

// ByteProgressCallback is a function called to report raw byte progress during download.
type ByteProgressCallback func(downloaded, total int64)

func report(cb ProgressCallback, p Progress) {
	if cb != nil {
		cb(p)
	}
}
