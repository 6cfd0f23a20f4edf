package api

import (
	"context"

	"github.com/FACorreiaa/familyfinance/internal/domain/categorization"
	importservice "github.com/FACorreiaa/familyfinance/internal/domain/import/service"
)

// categorizationAdapter adapts categorization.Service to import's Categorizer interface
type categorizationAdapter struct {
	svc *categorization.Service
}

// newCategorizationAdapter creates a new adapter
func newCategorizationAdapter(svc *categorization.Service) importservice.Categorizer {
	return &categorizationAdapter{svc: svc}
}

// CategorizeImportJob implements importservice.Categorizer. The job summary
// is already recorded on the job row.
func (a *categorizationAdapter) CategorizeImportJob(ctx context.Context, in importservice.ProcessResult) error {
	_, err := a.svc.CategorizeImportJob(ctx, in)
	return err
}
