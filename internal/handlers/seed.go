package handlers

import "github.com/lanops/lanagent/internal/registry"

// DefaultSeed is the manifest set written on first boot when the endpoint
// root is empty. Operators extend the agent by adding manifests beside these;
// edits to seeded files are preserved across restarts.
func DefaultSeed() []registry.SeedEntry {
	return []registry.SeedEntry{
		{
			Name: "execute",
			Manifest: registry.Manifest{
				Handler:      "execute",
				Description:  "Spawn a host process and return its record immediately",
				RequiresAuth: true,
				Args: []registry.Param{
					{Name: "command", Type: registry.ParamString, Required: true},
					{Name: "args", Type: registry.ParamArray},
				},
			},
		},
		{
			Name: "kill",
			Manifest: registry.Manifest{
				Handler:      "kill",
				Description:  "Terminate a tracked process by pid",
				RequiresAuth: true,
				Args: []registry.Param{
					{Name: "pid", Type: registry.ParamNumber, Required: true},
				},
			},
		},
		{
			// Complex endpoint: a directory whose endpoint.json is the entry
			// point. Files placed beside it stay private.
			Name:    "processes",
			Complex: true,
			Manifest: registry.Manifest{
				Handler:      "list_processes",
				Description:  "Snapshot of all tracked processes",
				RequiresAuth: true,
			},
		},
		{
			Name: "popup",
			Manifest: registry.Manifest{
				Handler:     "popup",
				Description: "Show a message window on the host",
				Args: []registry.Param{
					{Name: "message", Type: registry.ParamString, Required: true},
				},
			},
		},
		{
			Name: "test_command",
			Manifest: registry.Manifest{
				Handler:     "test_command",
				Description: "Echo command for connectivity checks",
				Args: []registry.Param{
					{Name: "message", Type: registry.ParamString},
				},
			},
		},
		{
			Name: "shutdown",
			Manifest: registry.Manifest{
				Handler:      "shutdown",
				Description:  "Shut down the host",
				RequiresAuth: true,
			},
		},
		{
			Name: "screenshot",
			Manifest: registry.Manifest{
				Handler:      "screenshot",
				Description:  "Capture the host screen via the configured tool",
				RequiresAuth: true,
			},
		},
		{
			Name: "get_specs",
			Manifest: registry.Manifest{
				Handler:     "get_specs",
				Description: "Host system information snapshot",
			},
		},
		{
			Name: "read_logs",
			Manifest: registry.Manifest{
				Handler:      "read_logs",
				Description:  "Tail of the agent log",
				RequiresAuth: true,
				Args: []registry.Param{
					{Name: "tail", Type: registry.ParamNumber},
				},
			},
		},
		{
			Name: "history",
			Manifest: registry.Manifest{
				Handler:      "history",
				Description:  "Recent dispatch audit entries",
				RequiresAuth: true,
				Args: []registry.Param{
					{Name: "limit", Type: registry.ParamNumber},
				},
			},
		},
	}
}
