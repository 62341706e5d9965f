package nav

import "github.com/tillerbot/tiller/internal/geom"

// Action names served by the navigation stack.
const (
	ActionComputePathToPose       = "compute_path_to_pose"
	ActionComputePathThroughPoses = "compute_path_through_poses"
	ActionFollowPath              = "follow_path"
)

// PlanGoal asks the planner for a path. A nil Start plans from the
// robot's current pose. PlannerID selects a planner plugin; empty
// leaves the choice to the server.
type PlanGoal struct {
	Start     *geom.Pose  `json:"start,omitempty"`
	Goal      *geom.Pose  `json:"goal,omitempty"`
	Goals     []geom.Pose `json:"goals,omitempty"`
	PlannerID string      `json:"planner_id,omitempty"`
}

// PlanResult carries the planned path back.
type PlanResult struct {
	Path *geom.Path `json:"path"`
}

// FollowGoal asks the controller to track a path until the end is
// reached or a fresher goal preempts it.
type FollowGoal struct {
	Path         *geom.Path `json:"path"`
	ControllerID string     `json:"controller_id,omitempty"`
}

// Feedback reports approach progress, refreshed every engine cycle.
type Feedback struct {
	CurrentPose         geom.Pose `json:"current_pose"`
	RemainingPathLength float64   `json:"remaining_path_length"`
	NavigationTime      float64   `json:"navigation_time_s"`
	EstimatedRemaining  float64   `json:"estimated_time_remaining_s"`
	Recoveries          int       `json:"number_of_recoveries"`
}
