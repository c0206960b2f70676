package cmd

import (
	"github.com/spf13/cobra"
	"github.com/takutakahashi/portalgate/pkg/userdir"
)

func newProfilesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles that have stored state",
		Long: `List the profile directories under $PORTALGATE_HOME/profiles. The
profile selected by --profile or the configuration is marked with *.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.load(cmd)
			if err != nil {
				return err
			}

			names, err := userdir.NewManager("").Profiles()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				printf(cmd, "%s\n", mutedStyle.Render("No profiles yet"))
				return nil
			}

			current := cfg.Profile
			if current == "" {
				current = userdir.DefaultProfile
			}
			for _, name := range names {
				mark := " "
				if name == current {
					mark = "*"
				}
				printf(cmd, "%s %s\n", mark, name)
			}
			return nil
		},
	}
}
