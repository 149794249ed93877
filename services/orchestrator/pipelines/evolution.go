// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelines

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/AleutianAI/chainflow/services/llm"
	"golang.org/x/time/rate"
)

// Evolution strategy names. Each run picks exactly two distinct strategies
// uniformly at random and applies them in sequence.
const (
	EvolveReasoning    = "reasoning"
	EvolveMultiContext = "multicontext"
	EvolveConcretizing = "concretizing"
	EvolveConstrained  = "constrained"
	EvolveComparative  = "comparative"
	EvolveHypothetical = "hypothetical"
	EvolveInBreadth    = "inbreadth"
)

// EvolutionStrategies lists every available strategy.
var EvolutionStrategies = []string{
	EvolveReasoning,
	EvolveMultiContext,
	EvolveConcretizing,
	EvolveConstrained,
	EvolveComparative,
	EvolveHypothetical,
	EvolveInBreadth,
}

var evolutionInstructions = map[string]string{
	EvolveReasoning:    "Rewrite the question so answering it requires multi-step reasoning over the context rather than direct lookup.",
	EvolveMultiContext: "Rewrite the question so answering it requires combining information from multiple parts of the context.",
	EvolveConcretizing: "Rewrite the question to replace abstract phrasing with concrete specifics drawn from the context.",
	EvolveConstrained:  "Rewrite the question to add a realistic constraint or condition that narrows the acceptable answer.",
	EvolveComparative:  "Rewrite the question so it asks for a comparison between two elements present in the context.",
	EvolveHypothetical: "Rewrite the question as a hypothetical scenario that is still answerable from the context.",
	EvolveInBreadth:    "Rewrite the question to broaden it toward a closely related aspect of the same context.",
}

// PickStrategies draws two distinct strategies uniformly at random.
func PickStrategies(rng *rand.Rand) (string, string) {
	first := rng.Intn(len(EvolutionStrategies))
	second := rng.Intn(len(EvolutionStrategies) - 1)
	if second >= first {
		second++
	}
	return EvolutionStrategies[first], EvolutionStrategies[second]
}

// EvolveQuestion applies two randomly chosen strategies to the question in
// sequence and returns the evolved question together with the applied
// strategy record ("first+second").
func EvolveQuestion(ctx context.Context, client llm.LLMClient, limiter *rate.Limiter, rng *rand.Rand, question, chunkText string) (string, string, error) {
	first, second := PickStrategies(rng)

	evolved := question
	for _, strategy := range []string{first, second} {
		if err := waitLimiter(ctx, limiter); err != nil {
			return "", "", err
		}
		prompt := fmt.Sprintf(
			"%s\nReturn only the rewritten question, nothing else.\n\nContext:\n%s\n\nQuestion: %s",
			evolutionInstructions[strategy], chunkText, evolved)
		out, err := client.Generate(ctx, prompt, llm.GenerationParams{})
		if err != nil {
			return "", "", fmt.Errorf("failed to apply %s evolution: %w", strategy, err)
		}
		out = strings.TrimSpace(out)
		if out != "" {
			evolved = out
		}
	}
	return evolved, first + "+" + second, nil
}
