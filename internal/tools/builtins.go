package tools

// NewBuiltinRegistry assembles the built-in tool set, skipping tools
// the classifier disables. Search order here fixes the spec order sent
// to providers.
func NewBuiltinRegistry(platform *PlatformClient, classifier *Classifier) *Registry {
	registry := NewRegistry()
	builtins := []Tool{
		NewSearchVendorsTool(platform),
		NewSearchVenuesTool(platform),
		NewCheckAvailabilityTool(platform),
		NewEstimateBudgetTool(),
		NewFetchVendorPageTool(),
		NewCreateEventTool(platform),
		NewBookVendorTool(platform),
	}
	for _, tool := range builtins {
		if classifier != nil && classifier.Disabled(tool.Spec().Name) {
			continue
		}
		registry.Register(tool)
	}
	return registry
}
