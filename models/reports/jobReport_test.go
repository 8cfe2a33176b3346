package reports

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"github.com/shopspring/decimal"
)

func TestBuildJobWorkbook(t *testing.T) {
	cost := "1,500"
	job, err := models.BuildJob(&models.NewJob{
		Customer:    models.CustomerInfo{Name: "Aung", Email: "aung@example.com"},
		Motorcycle:  models.MotorcycleInfo{Make: "Honda", Model: "Wave", Year: "2019", Plate: "YGN-1234"},
		ServiceType: models.ServiceTypeRepair,
		InitialCost: &cost,
	}, "p1", "Mechanic", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	summary := &JobSummaryResponse{
		TotalJobs:     1,
		ByStatus:      []StatusCount{{Status: models.JobStatusPending, Count: 1}},
		ByServiceType: []ServiceTypeCount{{ServiceType: models.ServiceTypeRepair, Count: 1, FinalTotal: decimal.Zero}},
		InitialTotal:  decimal.NewFromInt(1500),
	}

	f, err := buildJobWorkbook([]*models.Job{job}, summary)
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(jobsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one job row, got %d rows", len(rows))
	}
	if rows[0][0] != "Job ID" || rows[1][0] != job.ID {
		t.Fatalf("unexpected first column: %q / %q", rows[0][0], rows[1][0])
	}
	if rows[1][2] != "pending" || rows[1][4] != "Aung" {
		t.Fatalf("unexpected job row: %v", rows[1])
	}
	if rows[1][11] != "1500.00" {
		t.Fatalf("initial cost cell: got %q", rows[1][11])
	}

	summaryRows, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("summary rows: %v", err)
	}
	if summaryRows[0][0] != "Total Jobs" || summaryRows[0][1] != "1" {
		t.Fatalf("unexpected summary header: %v", summaryRows[0])
	}
}

func TestBuildJobWorkbookWithoutSummary(t *testing.T) {
	f, err := buildJobWorkbook(nil, nil)
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex(summarySheet); idx != -1 {
		t.Fatalf("summary sheet should not exist without a shop")
	}
}
