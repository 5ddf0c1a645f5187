package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved launch plan without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			resolved, marker, err := resolveStack(opts)
			if err != nil {
				return err
			}
			plan, err := topology.Build(resolved.Services)
			if err != nil {
				return err
			}

			type planSvc struct {
				Name       string               `json:"name"`
				Command    []string             `json:"command"`
				Cwd        string               `json:"cwd,omitempty"`
				Env        map[string]string    `json:"env,omitempty"`
				OneShot    bool                 `json:"one_shot,omitempty"`
				WaitMarker bool                 `json:"wait_marker,omitempty"`
				Watch      []string             `json:"watch,omitempty"`
				DependsOn  []profile.Dependency `json:"depends_on,omitempty"`
				Health     *profile.HealthCheck `json:"health,omitempty"`
			}
			ordered := make([]planSvc, 0, len(plan.Ordered))
			for _, s := range plan.Ordered {
				ordered = append(ordered, planSvc{
					Name:       s.Name,
					Command:    s.Command,
					Cwd:        s.Cwd,
					Env:        state.SanitizeEnv(s.Env),
					OneShot:    s.OneShot,
					WaitMarker: s.WaitMarker,
					Watch:      s.Watch,
					DependsOn:  s.DependsOn,
					Health:     s.Health,
				})
			}

			out := map[string]any{
				"profile":  resolved.Profile,
				"marker":   marker,
				"services": ordered,
				"waves":    plan.Waves,
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Int("services", len(ordered)).Int("waves", len(plan.Waves)).Msg("plan computed")
			return nil
		},
	}
}
