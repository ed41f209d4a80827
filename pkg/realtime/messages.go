package realtime

// Command builds a generic agent command message.
func Command(category, method string, args map[string]any, respond bool) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"category": category,
		"method":   method,
		"args":     args,
		"respond":  respond,
	}
}

// StopPackage stops the analysis package with the given id.
func StopPackage(pkgID int64, respond bool) map[string]any {
	return Command("analyzer", "stop_package", map[string]any{"pkg_id": pkgID}, respond)
}

// StopAllPackages stops every running analysis package.
func StopAllPackages(respond bool) map[string]any {
	return Command("analyzer", "stop_all_packages", nil, respond)
}

// StartPackageConfig describes the package to launch inside the VM.
type StartPackageConfig struct {
	Category string         `json:"category"`
	Target   string         `json:"target"`
	Package  string         `json:"package,omitempty"`
	FileName string         `json:"file_name,omitempty"`
	FileType string         `json:"file_type,omitempty"`
	PkgID    int64          `json:"pkg_id,omitempty"`
	Options  map[string]any `json:"options"`
}

// StartPackage launches an analysis package inside the VM.
func StartPackage(cfg StartPackageConfig, respond bool) map[string]any {
	if cfg.Options == nil {
		cfg.Options = map[string]any{}
	}
	return Command("analyzer", "start_package", map[string]any{"config": cfg}, respond)
}

// ListPackages asks the agent for its running packages.
func ListPackages() map[string]any {
	return Command("analyzer", "list_packages", nil, true)
}
