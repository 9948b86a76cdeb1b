package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
)

const (
	imageSystemPrompt = "You are RegenIQ AI Buddy, an expert in regenerative farming. " +
		"Analyze uploaded plant or soil photos for diseases, pests, or growth issues, and give practical solutions."
	textSystemPrompt = "You are RegenIQ AI Buddy, a regenerative farming assistant offering concise, " +
		"practical answers about soil, crops, pests, and sustainability."
	defaultImagePrompt = "Analyze this image and describe the plant or soil condition like a regenerative farming expert."
)

// buildPrompt собирает запрос к модели; farm и snapshot могут быть nil
func buildPrompt(text string, image *domain.Image, farm *domain.Farm, snapshot *domain.FarmSnapshot) service.InferenceRequest {
	req := service.InferenceRequest{
		SystemInstructions: textSystemPrompt,
		UserText:           text,
		Image:              image,
	}
	if image != nil {
		req.SystemInstructions = imageSystemPrompt
		if req.UserText == "" {
			req.UserText = defaultImagePrompt
		}
	}
	if farm != nil {
		req.UserText += "\n\n" + farmContext(farm, snapshot)
	}
	return req
}

func farmContext(farm *domain.Farm, snapshot *domain.FarmSnapshot) string {
	var b strings.Builder
	b.WriteString("Farm context:\n")
	fmt.Fprintf(&b, "Name: %s\n", farm.Name)
	if farm.LocationText != "" {
		fmt.Fprintf(&b, "Location: %s\n", farm.LocationText)
	}
	if farm.Latitude != nil && farm.Longitude != nil {
		fmt.Fprintf(&b, "Coordinates: %.5f, %.5f\n", *farm.Latitude, *farm.Longitude)
	}
	if farm.Size != nil {
		fmt.Fprintf(&b, "Size: %g ha\n", *farm.Size)
	}
	if snapshot != nil {
		writeObservation(&b, "Latest soil", snapshot.Soil)
		writeObservation(&b, "Latest weather", snapshot.Weather)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeObservation(b *strings.Builder, label string, obs *domain.Observation) {
	if obs == nil {
		return
	}
	keys := make([]string, 0, len(obs.Payload))
	for k := range obs.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, obs.Payload[k]))
	}
	fmt.Fprintf(b, "%s (%s): %s\n", label, obs.ObservedAt.Format("2006-01-02"), strings.Join(parts, ", "))
}
