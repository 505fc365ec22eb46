package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "planner",
			"POSTGRES_PASSWORD": "planner",
			"POSTGRES_DB":       "planner",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })
	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://planner:planner@%s:%s/planner?sslmode=disable", host, port.Port())
}

func TestRunLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	var migErr error
	for i := 0; i < 6; i++ {
		if migErr = Migrate(dsn, "up", 0); migErr == nil {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	if migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	st, err := NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	id := uuid.NewString()
	if err := st.CreateRun(ctx, id, "plan a party"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := st.MarkRunning(ctx, id); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	rec, err := RecordFromResult("plan a party", orchestrator.Result{
		RunID:    id,
		Outcomes: []orchestrator.StepOutcome{{Index: 0, Step: "party_planner_orama_step", Tag: orchestrator.TagSkippedExternal}},
	})
	if err != nil {
		t.Fatalf("RecordFromResult: %v", err)
	}
	if err := st.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != orchestrator.StatusComplete || len(got.OutcomeTags) != 1 || got.OutcomeTags[0] != orchestrator.TagSkippedExternal {
		t.Fatalf("unexpected stored run %+v", got)
	}

	if err := Migrate(dsn, "down", 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
