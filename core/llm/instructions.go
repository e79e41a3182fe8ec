package llm

import "fmt"

const generationInstruction = `
  You are a Senior AI Prompt Engineer. Your specialty is creating high-fidelity prompts for Midjourney, Stable Diffusion, and Flux.

  TASK: Generate a single, powerful, and evocative text-to-image prompt.

  REQUIRED ELEMENTS:
  - Subject: Clear and detailed main focus.
  - Style: Specific art medium or camera (e.g., analog film, hyper-realistic, synthwave, impasto oil).
  - Lighting: Dramatic lighting (e.g., volumetric fog, sunset glow, chiaroscuro).
  - Composition: 8k resolution, ultra-detailed, cinematic masterpiece.

  STRICT LIMITS:
  - Length: Exactly 50 to 300 characters.
  - No introductory text or quotes.
  - Response must be valid JSON as requested.
`

const imageAnalysisInstruction = `
  Analyze this image and extract its core aesthetic essence.
  Construct a descriptive prompt that would recreate this specific style and content in an AI image generator.
  Strict Limit: 50 to 300 characters.
  No meta-commentary, just the prompt.
`

func geminiTextPrompt(idea string, count int) string {
	return fmt.Sprintf("Concept: %s\n%s\nGenerate exactly %d unique prompts as a JSON array of strings.", idea, generationInstruction, count)
}

func chatSystemPrompt(count int) string {
	return fmt.Sprintf("%s\nStrict Requirement: Respond with a JSON object. Mention the word 'json'.\n"+
		"Format: {\"prompts\": [\"string1\", \"string2\", ...]}\nNumber of strings: %d", generationInstruction, count)
}

func chatUserPrompt(idea string) string {
	return "Generate image prompts based on this idea: " + idea
}
