package compaction

import (
	"fmt"
	"strings"

	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

const decisionSystemPrompt = "You are an AI assistant that analyzes user queries and AI message context to determine the best processing approach."

const decisionPromptTemplate = `Given the user's query and the AI message context, determine whether to:
1. Discover schema from the data (for data analysis, exploration, or understanding structure)
2. Summarize the data (for getting insights, key points, or conclusions)

Purpose of the data: %s
First Chunk: %s

Consider:
- Schema discovery path only to be taken if data exploration, understanding structure, analysis tasks, technical examination can be done through code execution.
- Summarization is better for: getting insights, key findings, conclusions, overview, business intelligence, listing data in human-readable format.

Return JSON with:
- "mode": "schema" or "summarize"
- "reasoning": brief explanation of the decision
- "suggestions": list of specific processing suggestions`

const schemaSystemPrompt = "You are a data structure analyzer."

const schemaPromptTemplate = `Given a chunk of structured data (usually JSON / JSON STRINGIFIED / ARRAY OF JSON OBJECTS), return:

1. "format" - e.g., "list of JSON objects", "newline-delimited JSON", "CSV-like", "stringified JSON", etc.
2. "schema" - map of field names to data types ("string", "number", "boolean", "object", "array", or "null"). For any nested JSON fields, provide their structure recursively as nested schemas.
3. "enums" - fields with at most 10 distinct values. Output map of field to values.

Output JSON only.

If a partial schema from previous chunks is provided, use it as context and extend or update it as needed.
Here is the partial schema from previous chunks (if any):
%s

%s`

const summarizeSystemPrompt = "You are a summarizer that processes partial or complete tool outputs, often in JSON or plain text."

const summarizePromptTemplate = `The tool was called to address the user query below. You are given a data chunk which may be malformed or incomplete due to chunking.

Input:
- Purpose of the data: %s
- Previous Summary if any: %s
- Suggestions for summarization: %s

Instructions:
1. When summarizing, always preserve numeric values exactly as written. Do not round, rephrase, or approximate decimals.
2. Extract only the fields or details relevant to the purpose/suggestions.
3. If the chunk is part of an object/array, keep usable substructures.
4. If parsing fails, extract key-value pairs heuristically.
5. Only add new information; do not re-summarize previous content.
6. If nothing useful is found, return an empty JSON object: {}.

Chunk:
%s

Output:
- Valid JSON if possible.
- Minimal, concise, only new info.`

const batchMergeSystemPrompt = "You are an assistant that merges partial summaries into a single intermediate summary."

const batchMergePromptTemplate = `Combine the following partial summaries into one concise intermediate summary.
- When summarizing, always preserve numeric values exactly as written.
- Do NOT draw conclusions
- Do NOT polish or finalize
- Preserve structure and key details for the next stage

Context:
- Purpose: %s
- Suggestions: %s

%s`

const finalMergeSystemPrompt = "You are an expert at combining and synthesizing multiple partial summaries into a comprehensive, coherent final summary."

const finalMergePromptTemplate = `Combine and refine the following partial summaries into one cohesive summary.

Context:
- Purpose: %s
- Suggestions: %s

Partial summaries to merge:
%s

Instructions:
- When summarizing, always preserve numeric values exactly as written. Do not round, rephrase, or approximate decimals.
- Use purpose context and suggestions to combine related information from different summaries
- Remove duplicate information
- Ensure the final summary is well-structured based on the purpose and suggestions
- Maintain the key insights and findings from all partial summaries
- If there are conflicting details, note them appropriately

Return a comprehensive final summary that covers all the important information from the partial summaries.`

const partialSummarySeparator = "\n\n--- PARTIAL SUMMARY ---\n\n"

func decisionMessages(reasonContext, firstChunk string) []*protocol.Message {
	return []*protocol.Message{
		protocol.SystemMessage(decisionSystemPrompt),
		protocol.UserMessage(fmt.Sprintf(decisionPromptTemplate, reasonContext, firstChunk)),
	}
}

func schemaMessages(chunk, previousSchema string) []*protocol.Message {
	return []*protocol.Message{
		protocol.SystemMessage(schemaSystemPrompt),
		protocol.UserMessage(fmt.Sprintf(schemaPromptTemplate, previousSchema, chunk)),
	}
}

func summarizeMessages(chunk, reasonContext, suggestions, previousSummary string) []*protocol.Message {
	return []*protocol.Message{
		protocol.SystemMessage(summarizeSystemPrompt),
		protocol.UserMessage(fmt.Sprintf(summarizePromptTemplate, reasonContext, previousSummary, suggestions, chunk)),
	}
}

func batchMergeMessages(partials []string, reasonContext, suggestions string) []*protocol.Message {
	joined := strings.Join(partials, partialSummarySeparator)
	return []*protocol.Message{
		protocol.SystemMessage(batchMergeSystemPrompt),
		protocol.UserMessage(fmt.Sprintf(batchMergePromptTemplate, reasonContext, suggestions, joined)),
	}
}

func finalMergeMessages(summaries []string, reasonContext, suggestions string) []*protocol.Message {
	joined := strings.Join(summaries, partialSummarySeparator)
	return []*protocol.Message{
		protocol.SystemMessage(finalMergeSystemPrompt),
		protocol.UserMessage(fmt.Sprintf(finalMergePromptTemplate, reasonContext, suggestions, joined)),
	}
}

var decisionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"mode": map[string]interface{}{
			"type": "string",
			"enum": []string{"schema", "summarize"},
		},
		"reasoning": map[string]interface{}{
			"type": "string",
		},
		"suggestions": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required": []string{"mode"},
}

var chunkSchemaSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"format": map[string]interface{}{"type": "string"},
		"schema": map[string]interface{}{"type": "object"},
		"enums":  map[string]interface{}{"type": "object"},
	},
	"required": []string{"format", "schema"},
}
