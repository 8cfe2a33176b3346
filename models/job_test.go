package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var jobTestNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func validJobInput() *NewJob {
	return &NewJob{
		Customer:    CustomerInfo{Name: " Daw Hla ", Email: " HLA@Example.com "},
		Motorcycle:  MotorcycleInfo{Make: "Honda", Model: "Wave"},
		ServiceType: ServiceTypeMaintenance,
		Notes:       "  Brake noise  ",
	}
}

func TestBuildJob(t *testing.T) {
	job, err := BuildJob(validJobInput(), "mech-1", "Ko Min", jobTestNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID == "" || job.Status != JobStatusPending || !job.DateCreated.Equal(jobTestNow) {
		t.Fatalf("unexpected job %+v", job)
	}
	if c := job.Customer.Data(); c.Email != "hla@example.com" || c.Name != "Daw Hla" {
		t.Fatalf("customer not normalized: %+v", c)
	}
	notes := job.NoteList()
	if len(notes) != 1 || notes[0].Text != "Brake noise" || notes[0].Author != "Ko Min" {
		t.Fatalf("unexpected notes %+v", notes)
	}
	if p := job.PhotoSet(); p.Start == nil || p.Completion == nil || len(p.Start)+len(p.Completion) != 0 {
		t.Fatalf("photo lists must be empty and non-nil: %+v", p)
	}
	if err := job.CheckInvariants(3); err != nil {
		t.Fatalf("new job breaks invariants: %v", err)
	}
}

func TestBuildJobValidation(t *testing.T) {
	cost := "abc"
	cases := []struct {
		name string
		edit func(*NewJob)
		by   string
	}{
		{"missing email", func(in *NewJob) { in.Customer.Email = "  " }, "mech-1"},
		{"bad email", func(in *NewJob) { in.Customer.Email = "not-an-email" }, "mech-1"},
		{"bad service type", func(in *NewJob) { in.ServiceType = "tuning" }, "mech-1"},
		{"bad initial cost", func(in *NewJob) { in.InitialCost = &cost }, "mech-1"},
		{"no creator", func(in *NewJob) {}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := validJobInput()
			c.edit(in)
			if _, err := BuildJob(in, c.by, "Ko Min", jobTestNow); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestJobCloneDoesNotAlias(t *testing.T) {
	job, err := BuildJob(validJobInput(), "mech-1", "Ko Min", jobTestNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	shop := "shop-1"
	job.ShopId = &shop
	job.Photos = datatypes.NewJSONType(PhotoSet{Start: []string{"a.jpg"}, Completion: []string{}})

	c := job.Clone()
	*c.ShopId = "shop-2"
	p := c.PhotoSet()
	p.Start[0] = "b.jpg"
	c.Notes = datatypes.NewJSONType(append(c.NoteList(), Note{Text: "more"}))

	if job.GetShopId() != "shop-1" {
		t.Fatalf("shop id aliased")
	}
	if job.PhotoSet().Start[0] != "a.jpg" {
		t.Fatalf("photos aliased")
	}
	if len(job.NoteList()) != 1 {
		t.Fatalf("notes aliased")
	}
}

func TestCheckInvariants(t *testing.T) {
	completedAt := jobTestNow
	full := PhotoSet{Start: []string{"1", "2", "3"}, Completion: []string{"1", "2", "3"}}
	cost := decimal.NewNullDecimal(decimal.NewFromInt(100))
	cases := []struct {
		name    string
		status  JobStatus
		date    *time.Time
		photos  PhotoSet
		final   decimal.NullDecimal
		wantErr bool
	}{
		{"pending", JobStatusPending, nil, PhotoSet{}, decimal.NullDecimal{}, false},
		{"completed", JobStatusCompleted, &completedAt, full, cost, false},
		{"unknown status", JobStatus("archived"), nil, PhotoSet{}, decimal.NullDecimal{}, true},
		{"date without completion", JobStatusInProgress, &completedAt, full, cost, true},
		{"completed without date", JobStatusCompleted, nil, full, cost, true},
		{"completed without cost", JobStatusCompleted, &completedAt, full, decimal.NullDecimal{}, true},
		{"completed after start photo removal", JobStatusCompleted, &completedAt, PhotoSet{Start: []string{"1"}, Completion: full.Completion}, cost, false},
		{"completed short on photos", JobStatusCompleted, &completedAt, PhotoSet{Start: full.Start, Completion: []string{"1"}}, cost, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			job := &Job{Status: c.status, DateCompleted: c.date, Photos: datatypes.NewJSONType(c.photos), FinalCost: c.final}
			err := job.CheckInvariants(3)
			if (err != nil) != c.wantErr {
				t.Fatalf("wantErr=%v, got %v", c.wantErr, err)
			}
		})
	}
}

func TestApplyFields(t *testing.T) {
	job := &Job{Status: JobStatusInProgress}
	now := jobTestNow
	job.ApplyFields(map[string]interface{}{
		"status":         JobStatusCompleted,
		"date_completed": &now,
		"final_cost":     decimal.NewNullDecimal(decimal.NewFromInt(150)),
		"unknown":        "ignored",
	})
	if job.Status != JobStatusCompleted || job.DateCompleted == nil || !job.FinalCost.Valid {
		t.Fatalf("fields not applied: %+v", job)
	}
	job.ApplyFields(map[string]interface{}{"date_completed": nil})
	if job.DateCompleted != nil {
		t.Fatalf("nil date should clear date completed")
	}
}

func TestValidateDetails(t *testing.T) {
	if err := ValidateDetails(&JobDetails{}); err == nil {
		t.Fatalf("empty edit should fail")
	}
	st := ServiceType("tuning")
	if err := ValidateDetails(&JobDetails{ServiceType: &st}); err == nil {
		t.Fatalf("bad service type should fail")
	}
	c := &CustomerInfo{Name: "U Ba", Email: " BA@Example.com"}
	if err := ValidateDetails(&JobDetails{Customer: c}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Email != "ba@example.com" {
		t.Fatalf("email not normalized: %q", c.Email)
	}
}
