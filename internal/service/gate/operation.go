package gate

import (
	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
)

// Usage counter names, one column each on the monthly usage row.
const (
	CounterPDFDocuments         = "pdf_documents_processed"
	CounterVideosProcessed      = "videos_processed"
	CounterVideoHours           = "video_hours"
	CounterTranscriptionMinutes = "transcription_minutes"
	CounterAPICalls             = "api_calls"
	CounterCasesCreated         = "cases_created"
)

// Operation describes a gated call: its tier floor, optional feature flag,
// rate bucket class, and the monthly counter it charges.
type Operation struct {
	Name      string
	TierFloor user.Tier
	Feature   string // empty means no flag required
	Class     string // rate bucket class
	Counter   string // empty means no monthly quota
}

// The gated operations. Handlers reference these rather than building
// descriptors inline so floors and counters stay in one place.
var (
	OpUpload = Operation{
		Name:      "evidence.upload",
		TierFloor: user.TierFree,
		Class:     "ingest",
		Counter:   CounterPDFDocuments,
	}
	OpProcessVideo = Operation{
		Name:      "evidence.process.video",
		TierFloor: user.TierStarter,
		Feature:   "transcription",
		Class:     "process",
		Counter:   CounterVideosProcessed,
	}
	OpProcessDocument = Operation{
		Name:      "evidence.process.document",
		TierFloor: user.TierFree,
		Feature:   "ocr",
		Class:     "process",
		Counter:   CounterPDFDocuments,
	}
	OpAnalyze = Operation{
		Name:      "analysis.run",
		TierFloor: user.TierProfessional,
		Feature:   "violation_analysis",
		Class:     "process",
		Counter:   "",
	}
	OpReport = Operation{
		Name:      "analysis.report",
		TierFloor: user.TierFree,
		Class:     "api",
		Counter:   CounterAPICalls,
	}
	OpExport = Operation{
		Name:      "analysis.export",
		TierFloor: user.TierProfessional,
		Feature:   "export",
		Class:     "api",
		Counter:   CounterAPICalls,
	}
	OpAPICall = Operation{
		Name:      "api.call",
		TierFloor: user.TierFree,
		Class:     "api",
		Counter:   CounterAPICalls,
	}
)

// MonthlyLimitFor resolves a counter name against a tier's limit table.
// Unknown counters are unlimited, so adding a counter never locks users
// out before the table learns about it.
func MonthlyLimitFor(limits config.TierLimits, counter string) int {
	switch counter {
	case CounterPDFDocuments:
		return limits.PDFsPerMonth
	case CounterVideosProcessed:
		return limits.VideosPerMonth
	case CounterVideoHours:
		return limits.VideoHoursPerMonth
	case CounterAPICalls:
		// The per-minute ceiling is enforced by the rate bucket; the
		// monthly row still records volume but is not capped by it.
		return config.Unlimited
	default:
		return config.Unlimited
	}
}

// HasFeature reports whether a tier's feature list carries a flag.
func HasFeature(limits config.TierLimits, feature string) bool {
	for _, f := range limits.Features {
		if f == feature {
			return true
		}
	}
	return false
}
