package clinic

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-ops/internal/auth"
)

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Kind      auth.Role // doctor, nurse or lab
	Specialty *string
	ClinicID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
