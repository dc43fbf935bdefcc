package summarize

// Stage selects the compression intensity of a summarization call. The
// pipeline escalates through the stages in order and never revisits a lower
// one within a run.
type Stage string

const (
	// StageNormal is the first-pass summary over a single chunk.
	StageNormal Stage = "normal"
	// StageAggressive compresses a batch of existing summaries into one.
	StageAggressive Stage = "aggressive"
	// StageExtreme is the terminal collapse of everything into a single
	// ultra-compact unit.
	StageExtreme Stage = "extreme"
)

// systemPrompt returns the system message for a stage. Unknown stages fall
// back to the first-pass prompt.
func systemPrompt(stage Stage) string {
	switch stage {
	case StageExtreme:
		return "You are a technical documentation expert tasked with EXTREME summarization. " +
			"Your goal is to create an ultra-compact summary that ONLY includes:\n" +
			"1. Core functionality and usage patterns\n" +
			"2. Critical API endpoints and parameters\n" +
			"3. Essential configuration options\n" +
			"AGGRESSIVELY remove:\n" +
			"- All explanatory text that isn't absolutely necessary\n" +
			"- Background information\n" +
			"- Implementation details\n" +
			"- Examples unless they're the only way to convey usage\n" +
			"- Any word that can be removed without losing core meaning\n" +
			"Be ruthless in condensing - every single character counts."
	case StageAggressive:
		return "You are a technical documentation expert focused on extreme summarization. " +
			"Create a highly optimized summary that preserves essential information while " +
			"being as concise as possible. Focus ONLY on:\n" +
			"1. Key functionality and usage\n" +
			"2. Critical parameters and configurations\n" +
			"3. Essential technical details\n" +
			"Remove ALL:\n" +
			"- Explanatory text that isn't crucial\n" +
			"- Redundant information\n" +
			"- Verbose descriptions\n" +
			"- Non-essential examples\n" +
			"Every word must justify its existence."
	default:
		return "You are a technical documentation expert. Summarize the following text into clear, " +
			"concise documentation format. Focus on key concepts, functionality, and important " +
			"details. Remove any unnecessary verbosity while maintaining technical accuracy. " +
			"Prioritize information about usage and configuration over explanations."
	}
}

// userPreamble precedes the text on every summarization call regardless of
// stage.
const userPreamble = "Create an extremely concise summary. Focus on usage, parameters, and configuration. " +
	"Remove all unnecessary words. The summary must be as short as possible while retaining " +
	"critical technical information.\n\n"
