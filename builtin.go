package conform

// BuiltinScenarios returns the scenario set the harness ships with. The set
// walks the target through the protocol lifecycle, the filesystem tools,
// the permission boundary, the error surface, and the auxiliary listing
// methods. Scenario names are stable so -run filters keep working across
// releases.
func BuiltinScenarios() []Scenario {
	return []Scenario{
		lifecycleScenario(),
		filesystemScenario(),
		permissionsScenario(),
		errorsScenario(),
		observabilityScenario(),
	}
}

// initializeStep opens every scenario: the handshake must succeed and echo
// the server's identity before anything else is worth probing.
func initializeStep() Step {
	return Step{
		Name:   "initialize",
		Method: MethodInitialize,
		Params: TemplateParams(map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "go-mcp-conform",
				"version": "1.0.0",
			},
		}),
		Expect: []Expectation{
			Success("protocolVersion", "serverInfo.name", "serverInfo.version"),
		},
	}
}

func sessionStep() Step {
	return Step{
		Name:   "create session",
		Method: MethodSessionCreate,
		Params: TemplateParams(map[string]any{
			"client_name":    "test-client",
			"client_version": "1.0.0",
		}),
		Expect: []Expectation{Success("session_id")},
		Save:   map[string]string{"session_id": "session_id"},
	}
}

func lifecycleScenario() Scenario {
	return Scenario{
		Name: "lifecycle",
		Steps: []Step{
			initializeStep(),
			sessionStep(),
			{
				Name:   "session info",
				Method: MethodSessionInfo,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"session_id": "$session_id",
				}),
				Expect: []Expectation{
					Success("session_id", "client_name", "created_at"),
				},
			},
			{
				Name:   "list tools",
				Method: MethodToolsList,
				Params: TemplateParams(map[string]any{}),
				Expect: []Expectation{
					Success("tools"),
					FieldPresent("tools.0.name"),
					FieldPresent("tools.0.description"),
				},
			},
			{
				Name:   "list working directory",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "list_directory",
					"arguments": map[string]any{
						"path":      ".",
						"max_depth": 1,
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{Success("files")},
			},
		},
	}
}

func filesystemScenario() Scenario {
	const probeContent = "conformance probe\n"

	return Scenario{
		Name: "filesystem",
		Steps: []Step{
			initializeStep(),
			sessionStep(),
			{
				Name:   "create scratch directory",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "create_directory",
					"arguments": map[string]any{
						"path": "conform-scratch",
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{Success()},
			},
			{
				Name:   "write probe file",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "write_file",
					"arguments": map[string]any{
						"path":    "conform-scratch/probe.txt",
						"content": probeContent,
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{Success()},
			},
			{
				Name:   "read probe file back",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "read_file",
					"arguments": map[string]any{
						"path": "conform-scratch/probe.txt",
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{
					ResultEquals(map[string]any{"content": probeContent}),
				},
			},
			{
				Name:   "list scratch directory",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "list_directory",
					"arguments": map[string]any{
						"path":      "conform-scratch",
						"max_depth": 1,
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{
					Success("files"),
					FieldPresent("files.0.name"),
				},
			},
			{
				Name:   "delete scratch directory",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "delete",
					"arguments": map[string]any{
						"path":      "conform-scratch",
						"recursive": true,
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{Success()},
			},
		},
	}
}

func permissionsScenario() Scenario {
	return Scenario{
		Name: "permissions",
		Steps: []Step{
			initializeStep(),
			{
				// Read-only tools work without an established session.
				Name:   "list blocks without session",
				Method: MethodToolsCall,
				Params: TemplateParams(map[string]any{
					"name":      "list_blocks",
					"arguments": map[string]any{},
				}),
				Expect: []Expectation{Success("blocks")},
			},
			sessionStep(),
			{
				Name:   "create block is denied",
				Method: MethodToolsCall,
				Needs:  []string{"session_id"},
				Params: TemplateParams(map[string]any{
					"name": "create_block",
					"arguments": map[string]any{
						"name":        "conform-block",
						"description": "created by the conformance harness",
					},
					"session_id": "$session_id",
				}),
				Expect: []Expectation{ErrorContains("permission")},
			},
		},
	}
}

func errorsScenario() Scenario {
	return Scenario{
		Name: "errors",
		Steps: []Step{
			initializeStep(),
			{
				Name:   "unknown method",
				Method: "bogus/method",
				Params: TemplateParams(map[string]any{}),
				Expect: []Expectation{ErrorCode(CodeMethodNotFound)},
			},
			{
				Name:   "unknown tool",
				Method: MethodToolsCall,
				Params: TemplateParams(map[string]any{
					"name":      "no_such_tool",
					"arguments": map[string]any{},
				}),
				Expect: []Expectation{ErrorContains("unknown tool")},
			},
			{
				Name:   "missing tool arguments",
				Method: MethodToolsCall,
				Params: TemplateParams(map[string]any{
					"name":      "read_file",
					"arguments": map[string]any{},
				}),
				Expect: []Expectation{ErrorCode(CodeInvalidParams)},
			},
			{
				// Last in the scenario: a target that drops the connection
				// on garbage input takes nothing else down with it.
				Name:   "parse error probe",
				Raw:    []byte(`{"jsonrpc":"2.0",`),
				Expect: []Expectation{ErrorCode(CodeParseError)},
			},
		},
	}
}

func observabilityScenario() Scenario {
	return Scenario{
		Name: "observability",
		Steps: []Step{
			initializeStep(),
			{
				Name:   "server stats",
				Method: MethodServerStats,
				Expect: []Expectation{
					FieldNonNegative("active_sessions"),
					FieldNonNegative("uptime_seconds"),
				},
			},
			{
				Name:   "list prompts",
				Method: MethodPromptsList,
				Params: TemplateParams(map[string]any{}),
				Expect: []Expectation{Success("prompts")},
			},
			{
				Name:   "list resources",
				Method: MethodResourcesList,
				Params: TemplateParams(map[string]any{}),
				Expect: []Expectation{Success("resources")},
			},
		},
	}
}
