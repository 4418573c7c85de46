package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elektrokombinacija/mrta-research/internal/core"
)

// Dataset is the on-disk form of one problem instance: tasks with windows,
// an initial robot pose set, and an opaque travel-time matrix supplied by the
// external map/planner. The engine consumes it; it never generates one.
type Dataset struct {
	Name   string      `json:"name"`
	Robots []robotJSON `json:"robots"`
	Tasks  []taskJSON  `json:"tasks"`
	Travel [][]float64 `json:"travel"`
}

type robotJSON struct {
	ID          int     `json:"id"`
	Location    int     `json:"location"`
	AvailableAt float64 `json:"available_at"`
}

type taskJSON struct {
	ID            int     `json:"id"`
	EarliestStart float64 `json:"earliest_start"`
	LatestFinish  float64 `json:"latest_finish"`
	Duration      float64 `json:"duration"`
	DurationStd   float64 `json:"duration_std"`
	Location      int     `json:"location"`
	Predecessor   int     `json:"predecessor"` // -1 when unchained
}

// LoadDataset reads <dir>/<name>.json.
func LoadDataset(dir, name string) (*Dataset, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = name
	}
	return &ds, nil
}

// Fleet materializes a validated fleet instance from the dataset. Every call
// returns fresh robot records; tasks are immutable and shared.
func (ds *Dataset) Fleet() (*core.Fleet, error) {
	fleet := core.NewFleet()
	for _, r := range ds.Robots {
		fleet.Robots = append(fleet.Robots, &core.Robot{
			ID:          core.RobotID(r.ID),
			Location:    core.LocationRef(r.Location),
			AvailableAt: r.AvailableAt,
		})
	}
	for _, t := range ds.Tasks {
		task := &core.Task{
			ID:            core.TaskID(t.ID),
			EarliestStart: t.EarliestStart,
			LatestFinish:  t.LatestFinish,
			Duration:      t.Duration,
			DurationStd:   t.DurationStd,
			Location:      core.LocationRef(t.Location),
			Predecessor:   core.TaskID(t.Predecessor),
		}
		fleet.Tasks = append(fleet.Tasks, task)
	}
	fleet.Travel = ds.travelFunc()
	if err := fleet.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	return fleet, nil
}

// travelFunc wraps the matrix as an opaque duration function. Unknown
// location pairs cost nothing, matching a co-located depot.
func (ds *Dataset) travelFunc() core.TravelTimeFunc {
	travel := ds.Travel
	return func(from, to core.LocationRef) float64 {
		i, j := int(from), int(to)
		if i < 0 || i >= len(travel) {
			return 0
		}
		row := travel[i]
		if j < 0 || j >= len(row) {
			return 0
		}
		return row[j]
	}
}
