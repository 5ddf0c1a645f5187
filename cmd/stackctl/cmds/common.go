package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	Root      string
	StackFile string
	Profile   string
	Timeout   time.Duration
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("root", "", "Stack root (defaults to current directory)")
	root.PersistentFlags().String("stack-file", "", "Path to stack file (defaults to stack.yaml under root)")
	root.PersistentFlags().String("profile", profile.DefaultProfileName, "Profile to resolve")
	root.PersistentFlags().Duration("timeout", 60*time.Second, "Default timeout for startup and shutdown operations")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	root, err := cmd.Root().PersistentFlags().GetString("root")
	if err != nil {
		return rootOptions{}, err
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return rootOptions{}, err
	}

	stackFile, err := cmd.Root().PersistentFlags().GetString("stack-file")
	if err != nil {
		return rootOptions{}, err
	}
	if stackFile == "" {
		stackFile = profile.DefaultPath(root)
	} else if !filepath.IsAbs(stackFile) {
		stackFile = filepath.Join(root, stackFile)
	}

	profileName, err := cmd.Root().PersistentFlags().GetString("profile")
	if err != nil {
		return rootOptions{}, err
	}

	timeout, err := cmd.Root().PersistentFlags().GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{
		Root:      root,
		StackFile: stackFile,
		Profile:   profileName,
		Timeout:   timeout,
	}, nil
}

// resolveStack loads the stack file and resolves the selected profile.
// The returned marker path is absolute.
func resolveStack(opts rootOptions) (*profile.Resolved, string, error) {
	f, err := profile.LoadFromFile(opts.StackFile)
	if err != nil {
		return nil, "", err
	}
	resolved, err := f.Resolve(opts.Profile)
	if err != nil {
		return nil, "", err
	}
	marker := resolved.Marker
	if !filepath.IsAbs(marker) {
		marker = filepath.Join(opts.Root, marker)
	}
	return resolved, marker, nil
}
