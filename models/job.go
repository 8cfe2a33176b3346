package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

type MotorcycleInfo struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  string `json:"year"`
	VIN   string `json:"vin"`
	Plate string `json:"plate"`
	Color string `json:"color"`
}

// Note is one entry of the append-only job log.
type Note struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	System    bool      `json:"system"`
}

// PhotoSet holds the ordered start and completion evidence references.
type PhotoSet struct {
	Start      []string `json:"start"`
	Completion []string `json:"completion"`
}

// Of returns the sequence for kind.
func (p PhotoSet) Of(kind PhotoKind) []string {
	if kind == PhotoKindCompletion {
		return p.Completion
	}
	return p.Start
}

// Clone returns a deep copy, so edits never alias the original slices.
func (p PhotoSet) Clone() PhotoSet {
	return PhotoSet{
		Start:      append([]string{}, p.Start...),
		Completion: append([]string{}, p.Completion...),
	}
}

type Job struct {
	ID            string                             `gorm:"primaryKey;type:char(36)" json:"id"`
	ShopId        *string                            `gorm:"type:char(36);index" json:"shop_id"`
	CreatedBy     string                             `gorm:"type:char(36);index;not null" json:"created_by"`
	Customer      datatypes.JSONType[CustomerInfo]   `json:"customer"`
	Motorcycle    datatypes.JSONType[MotorcycleInfo] `json:"motorcycle"`
	ServiceType   ServiceType                        `gorm:"size:20;not null" json:"service_type"`
	Status        JobStatus                          `gorm:"size:20;not null;default:'pending';index" json:"status"`
	DateCreated   time.Time                          `gorm:"not null;index" json:"date_created"`
	DateCompleted *time.Time                         `json:"date_completed"`
	Notes         datatypes.JSONType[[]Note]         `json:"notes"`
	Photos        datatypes.JSONType[PhotoSet]       `json:"photos"`
	InitialCost   decimal.NullDecimal                `gorm:"type:decimal(20,4)" json:"initial_cost"`
	FinalCost     decimal.NullDecimal                `gorm:"type:decimal(20,4)" json:"final_cost"`
	UpdatedAt     time.Time                          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewJob struct {
	ShopId      *string        `json:"shop_id"`
	Customer    CustomerInfo   `json:"customer"`
	Motorcycle  MotorcycleInfo `json:"motorcycle"`
	ServiceType ServiceType    `json:"service_type"`
	InitialCost *string        `json:"initial_cost"`
	Notes       string         `json:"notes"`
}

// JobDetails is a partial edit of the descriptive fields of a job.
type JobDetails struct {
	Customer    *CustomerInfo   `json:"customer"`
	Motorcycle  *MotorcycleInfo `json:"motorcycle"`
	ServiceType *ServiceType    `json:"service_type"`
}

func (j Job) GetShopId() string {
	return utils.DereferencePtr(j.ShopId)
}

// BuildJob validates input and returns a pending job with empty evidence.
func BuildJob(input *NewJob, createdBy string, authorName string, now time.Time) (*Job, error) {
	if input == nil {
		return nil, errors.New("job input is required")
	}
	if err := validateCustomer(&input.Customer); err != nil {
		return nil, err
	}
	if !input.ServiceType.IsValid() {
		return nil, fmt.Errorf("invalid service type %q", input.ServiceType)
	}
	if createdBy == "" {
		return nil, errors.New("creator is required")
	}
	initialCost, err := utils.ParseOptionalMoney(input.InitialCost)
	if err != nil {
		return nil, fmt.Errorf("invalid initial cost: %w", err)
	}

	notes := []Note{}
	if text := strings.TrimSpace(input.Notes); text != "" {
		notes = append(notes, Note{Text: text, Timestamp: now, Author: authorName})
	}

	return &Job{
		ID:          uuid.NewString(),
		ShopId:      input.ShopId,
		CreatedBy:   createdBy,
		Customer:    datatypes.NewJSONType(input.Customer),
		Motorcycle:  datatypes.NewJSONType(input.Motorcycle),
		ServiceType: input.ServiceType,
		Status:      JobStatusPending,
		DateCreated: now,
		Notes:       datatypes.NewJSONType(notes),
		Photos:      datatypes.NewJSONType(PhotoSet{Start: []string{}, Completion: []string{}}),
		InitialCost: initialCost,
	}, nil
}

func validateCustomer(c *CustomerInfo) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Email == "" {
		return errors.New("customer email is required")
	}
	if err := utils.ValidateStruct(c); err != nil {
		fields := utils.ProcessValidationErrors(err)
		if _, ok := fields["Email"]; ok {
			return errors.New("invalid customer email")
		}
		if _, ok := fields["Phone"]; ok {
			return errors.New("invalid customer phone number")
		}
		return err
	}
	if c.Phone != "" {
		c.Phone = utils.FormatPhoneNumber(c.Phone, utils.CountryCode)
	}
	return nil
}

// ValidateDetails normalizes a details edit in place.
func ValidateDetails(d *JobDetails) error {
	if d == nil || (d.Customer == nil && d.Motorcycle == nil && d.ServiceType == nil) {
		return errors.New("nothing to update")
	}
	if d.Customer != nil {
		if err := validateCustomer(d.Customer); err != nil {
			return err
		}
	}
	if d.ServiceType != nil && !d.ServiceType.IsValid() {
		return fmt.Errorf("invalid service type %q", *d.ServiceType)
	}
	return nil
}

func (j *Job) NoteList() []Note {
	return j.Notes.Data()
}

func (j *Job) PhotoSet() PhotoSet {
	return j.Photos.Data()
}

// Clone returns a copy safe to mutate without touching j.
func (j *Job) Clone() *Job {
	c := *j
	if j.ShopId != nil {
		s := *j.ShopId
		c.ShopId = &s
	}
	if j.DateCompleted != nil {
		t := *j.DateCompleted
		c.DateCompleted = &t
	}
	c.Notes = datatypes.NewJSONType(append([]Note{}, j.Notes.Data()...))
	c.Photos = datatypes.NewJSONType(j.Photos.Data().Clone())
	return &c
}

// HasFinalCost reports whether the final cost is set.
func (j *Job) HasFinalCost() bool {
	return j.FinalCost.Valid
}

// CheckInvariants verifies the record-level rules every persisted job obeys.
// Start photos may be removed before completion, so only the completion
// evidence and the final cost are required of a completed job.
func (j *Job) CheckInvariants(minCompletion int) error {
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid status %q", j.Status)
	}
	if (j.DateCompleted != nil) != (j.Status == JobStatusCompleted) {
		return errors.New("date completed must be set exactly when the job is completed")
	}
	if j.Status == JobStatusCompleted {
		photos := j.PhotoSet()
		if len(photos.Completion) < minCompletion {
			return fmt.Errorf("job completed with %d completion photos", len(photos.Completion))
		}
		if !j.FinalCost.Valid {
			return errors.New("job completed without final cost")
		}
	}
	return nil
}

// ApplyFields mirrors a column update map onto the in-memory record. Keys are
// the column names used in field-level updates.
func (j *Job) ApplyFields(fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "status":
			j.Status = v.(JobStatus)
		case "date_completed":
			if t, ok := v.(*time.Time); ok {
				j.DateCompleted = t
			} else {
				j.DateCompleted = nil
			}
		case "notes":
			j.Notes = v.(datatypes.JSONType[[]Note])
		case "photos":
			j.Photos = v.(datatypes.JSONType[PhotoSet])
		case "initial_cost":
			j.InitialCost = v.(decimal.NullDecimal)
		case "final_cost":
			j.FinalCost = v.(decimal.NullDecimal)
		case "customer":
			j.Customer = v.(datatypes.JSONType[CustomerInfo])
		case "motorcycle":
			j.Motorcycle = v.(datatypes.JSONType[MotorcycleInfo])
		case "service_type":
			j.ServiceType = v.(ServiceType)
		case "shop_id":
			if s, ok := v.(*string); ok {
				j.ShopId = s
			} else {
				j.ShopId = nil
			}
		}
	}
}
