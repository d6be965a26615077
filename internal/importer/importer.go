package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/localstore"
)

// ErrEmptyRemote means the server returned an empty list. The local mirror is
// deliberately left untouched: an empty or failing fetch must never erase
// valid cached reference data.
var ErrEmptyRemote = errors.New("remote returned empty list")

var (
	importedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Reference rows saved by successful imports.",
	}, []string{"entity"})
	importFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "import",
		Name:      "failures_total",
		Help:      "Import cycles that saved nothing.",
	}, []string{"entity"})
)

// Importer refreshes the local student and center mirrors from the remote API
// using a full-replace strategy.
type Importer struct {
	repo   *localstore.Repository
	client *api.Client
}

// New creates an importer.
func New(repo *localstore.Repository, client *api.Client) *Importer {
	return &Importer{repo: repo, client: client}
}

// ImportStudents fetches the full roster and replaces the local mirror.
// Returns the number of rows saved.
func (i *Importer) ImportStudents(ctx context.Context, token string) (int, error) {
	remote, err := i.client.FetchStudents(ctx, token)
	if err != nil {
		importFailures.WithLabelValues("students").Inc()
		return 0, fmt.Errorf("fetch students: %w", err)
	}
	if len(remote) == 0 {
		importFailures.WithLabelValues("students").Inc()
		return 0, ErrEmptyRemote
	}

	now := time.Now().UTC()
	students := make([]localstore.Student, 0, len(remote))
	for _, s := range remote {
		students = append(students, localstore.Student{
			StudentID:    s.ID,
			StudentCode:  s.Code,
			StudentName:  s.FullName,
			StudentGroup: s.GroupName,
			PhoneNumber:  s.PhoneNumber,
			ParentPhone1: s.ParentPhone1,
			ParentPhone2: s.ParentPhone2,
			CreatedAt:    now,
		})
	}

	saved, err := i.repo.ReplaceAllStudents(ctx, students)
	if err != nil {
		importFailures.WithLabelValues("students").Inc()
		return 0, fmt.Errorf("replace students: %w", err)
	}
	if saved == 0 {
		importFailures.WithLabelValues("students").Inc()
		return 0, errors.New("no students could be saved")
	}
	importedRows.WithLabelValues("students").Add(float64(saved))
	log.Printf("imported %d of %d students", saved, len(remote))
	return saved, nil
}

// ImportCenters fetches the full center list and replaces the local mirror.
// Returns the number of rows saved.
func (i *Importer) ImportCenters(ctx context.Context, token string) (int, error) {
	remote, err := i.client.FetchCenters(ctx, token)
	if err != nil {
		importFailures.WithLabelValues("centers").Inc()
		return 0, fmt.Errorf("fetch centers: %w", err)
	}
	if len(remote) == 0 {
		importFailures.WithLabelValues("centers").Inc()
		return 0, ErrEmptyRemote
	}

	now := time.Now().UTC()
	centers := make([]localstore.Center, 0, len(remote))
	for _, c := range remote {
		centers = append(centers, localstore.Center{ID: c.ID, Name: c.Name, CreatedAt: now})
	}

	saved, err := i.repo.ReplaceAllCenters(ctx, centers)
	if err != nil {
		importFailures.WithLabelValues("centers").Inc()
		return 0, fmt.Errorf("replace centers: %w", err)
	}
	if saved == 0 {
		importFailures.WithLabelValues("centers").Inc()
		return 0, errors.New("no centers could be saved")
	}
	importedRows.WithLabelValues("centers").Add(float64(saved))
	log.Printf("imported %d of %d centers", saved, len(remote))
	return saved, nil
}
