package stack

// PlannedResource describes a resource before it is applied.
type PlannedResource struct {
	Name       string         `yaml:"name" json:"name"`
	Kind       Kind           `yaml:"kind" json:"kind"`
	DependsOn  []string       `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Properties map[string]any `yaml:"properties" json:"properties"`
}

// Plan lists the resources of s in the order Apply would create them.
func Plan(s *Stack) ([]PlannedResource, error) {
	order, err := s.Graph.Order()
	if err != nil {
		return nil, err
	}
	plan := make([]PlannedResource, 0, len(order))
	for _, r := range order {
		plan = append(plan, PlannedResource{
			Name:       r.ResourceName(),
			Kind:       r.ResourceKind(),
			DependsOn:  s.Graph.DependsOn(r.ResourceName()),
			Properties: r.properties(),
		})
	}
	return plan, nil
}
