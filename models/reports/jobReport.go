package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type StatusCount struct {
	Status models.JobStatus `json:"status"`
	Count  int64            `json:"count"`
}

type ServiceTypeCount struct {
	ServiceType models.ServiceType `json:"service_type"`
	Count       int64              `json:"count"`
	FinalTotal  decimal.Decimal    `json:"final_total"`
}

type JobSummaryResponse struct {
	ShopId        string             `json:"shop_id"`
	FromDate      *time.Time         `json:"from_date"`
	ToDate        *time.Time         `json:"to_date"`
	TotalJobs     int64              `json:"total_jobs"`
	ByStatus      []StatusCount      `json:"by_status"`
	ByServiceType []ServiceTypeCount `json:"by_service_type"`
	InitialTotal  decimal.Decimal    `json:"initial_total"`
	FinalTotal    decimal.Decimal    `json:"final_total"`
}

// GetJobSummary aggregates a shop's jobs created between fromDate and toDate.
func GetJobSummary(ctx context.Context, shopId string, fromDate, toDate *time.Time) (*JobSummaryResponse, error) {
	started := time.Now()
	defer logSlowReport(ctx, "job_summary", started, logrus.Fields{"shop": shopId})

	var key string
	if reportCacheEnabled() {
		key = fmt.Sprintf("report:job_summary:%s:%s:%s", shopId, dateKey(fromDate), dateKey(toDate))
		var cached JobSummaryResponse
		if ok, err := cacheGet(key, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	db := config.GetDB()
	approved := db.Model(&models.ShopMembership{}).Select("profile_id").
		Where("shop_id = ? AND status = ?", shopId, models.MembershipStatusApproved)
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&models.Job{}).
			Where("jobs.shop_id = ? AND jobs.created_by IN (?)", shopId, approved)
		if fromDate != nil {
			q = q.Where("date_created >= ?", *fromDate)
		}
		if toDate != nil {
			q = q.Where("date_created <= ?", *toDate)
		}
		return q
	}

	result := &JobSummaryResponse{ShopId: shopId, FromDate: fromDate, ToDate: toDate}
	if err := base().Select("status, COUNT(*) AS count").Group("status").Scan(&result.ByStatus).Error; err != nil {
		return nil, err
	}
	if err := base().
		Select("service_type, COUNT(*) AS count, COALESCE(SUM(final_cost), 0) AS final_total").
		Group("service_type").Scan(&result.ByServiceType).Error; err != nil {
		return nil, err
	}
	var totals struct {
		InitialTotal decimal.Decimal
		FinalTotal   decimal.Decimal
	}
	if err := base().
		Select("COALESCE(SUM(initial_cost), 0) AS initial_total, COALESCE(SUM(final_cost), 0) AS final_total").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	result.InitialTotal = totals.InitialTotal
	result.FinalTotal = totals.FinalTotal
	for _, s := range result.ByStatus {
		result.TotalJobs += s.Count
	}

	if key != "" {
		_ = cacheSet(key, result, reportCacheTTL())
	}
	return result, nil
}

func dateKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

const (
	jobsSheet    = "Jobs"
	summarySheet = "Summary"
)

var jobHeadings = []string{
	"Job ID", "Created", "Status", "Service Type", "Customer", "Customer Email", "Customer Phone",
	"Make", "Model", "Year", "Plate", "Initial Cost", "Final Cost", "Completed", "Start Photos", "Completion Photos",
}

// ExportJobs writes every job matching filter to w as an xlsx workbook.
func ExportJobs(ctx context.Context, filter models.JobFilter, w io.Writer) error {
	started := time.Now()
	defer logSlowReport(ctx, "job_export", started, nil)

	var jobs []*models.Job
	filter.Limit = 100
	for {
		conn, err := models.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		jobs = append(jobs, conn.Jobs...)
		if conn.PageInfo.HasNextPage == nil || !*conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		cursor := conn.PageInfo.EndCursor
		filter.After = &cursor
	}

	var summary *JobSummaryResponse
	if shopId := utils.DereferencePtr(filter.ShopId); shopId != "" {
		var err error
		if summary, err = GetJobSummary(ctx, shopId, filter.From, filter.To); err != nil {
			return err
		}
	}

	f, err := buildJobWorkbook(jobs, summary)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func buildJobWorkbook(jobs []*models.Job, summary *JobSummaryResponse) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(jobsSheet, "A1", &jobHeadings); err != nil {
		return nil, err
	}
	for i, job := range jobs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := jobRow(job)
		if err := f.SetSheetRow(jobsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if summary != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return nil, err
		}
		rows := [][]interface{}{
			{"Total Jobs", summary.TotalJobs},
			{"Initial Total", summary.InitialTotal.StringFixed(2)},
			{"Final Total", summary.FinalTotal.StringFixed(2)},
			{},
			{"Status", "Count"},
		}
		for _, s := range summary.ByStatus {
			rows = append(rows, []interface{}{string(s.Status), s.Count})
		}
		rows = append(rows, []interface{}{}, []interface{}{"Service Type", "Count", "Final Total"})
		for _, s := range summary.ByServiceType {
			rows = append(rows, []interface{}{string(s.ServiceType), s.Count, s.FinalTotal.StringFixed(2)})
		}
		for i := range rows {
			if len(rows[i]) == 0 {
				continue
			}
			if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &rows[i]); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func jobRow(job *models.Job) []interface{} {
	customer := job.Customer.Data()
	bike := job.Motorcycle.Data()
	photos := job.PhotoSet()
	completed := ""
	if job.DateCompleted != nil {
		completed = job.DateCompleted.UTC().Format(time.RFC3339)
	}
	return []interface{}{
		job.ID,
		job.DateCreated.UTC().Format(time.RFC3339),
		string(job.Status),
		string(job.ServiceType),
		customer.Name,
		customer.Email,
		customer.Phone,
		bike.Make,
		bike.Model,
		bike.Year,
		bike.Plate,
		moneyCell(job.InitialCost),
		moneyCell(job.FinalCost),
		completed,
		len(photos.Start),
		len(photos.Completion),
	}
}

func moneyCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
