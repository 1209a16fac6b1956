package dispatch

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/agent0/internal/action"
)

const blockPrefix = "Code block should have first 3 backticks followed by the word: "

const outputLimitHint = "  Try to ensure any outputs of the code are limited to no more than 1000 characters or about 20 items in a list, to avoid overflow of context for the LLM.  Or have any output go to a file, then extract the required information from the file.  Or simply take one example (e.g. single image) from list, do not make code or scripts dump out entire directory listings or other large lists."

const debugHint = " If debugging is required, add print statements to python code or bash code."

const (
	planPrompt    = "In this iteration, given the code, come up with a plan."
	reviewPrompt  = "In this iteration, your primary task is to review the code for potential improvements given the history of feedback from the user (which is just automated agent code you are effectively running)."
	pythonNudge   = "If the python code successfully ran, run the `python_tools` case to generate a reusable tool.  If the python code was not successful, revise as required until it works as expected."
	restartPrompt = "You have edited the agent code, if you plan to restart with this code, do not forget to have a code block with code tag 'restart' (no quotes)."
)

// NoActionsMessage is fed back when a reply holds no fenced blocks.
const NoActionsMessage = "The provided code blocks were not actionable or are not valid code blocks." +
	" Let's try a create a new task (choose a case and give code block) or specify the task more clearly. Or try a different action, or build a new tool for a new task." +
	"If you believe there are no more things to do given the plan, come up with an exploration plan for doing diverse complex tasks, doing under-done actions, or making new agent tools."

// Catalogue describes every verb the dispatcher understands. A generation
// extends the agent by patching this table and the switch in Dispatch.
func Catalogue(sourcePath string, patchStrip, patchFuzz int) map[action.Kind]string {
	c := make(map[action.Kind]string, len(action.Kinds))
	c[action.KindUser] = blockPrefix + "user .  Code block should contain text that would be used as user message.  You should write this in the perspective of the user who is talking to an LLM.  Do not put code diff patches here."
	c[action.KindReview] = blockPrefix + fmt.Sprintf("review .  This triggers user to respond with full %s code.  If the chat history does not appear to contain the full code, please trigger a review.", sourcePath)
	c[action.KindBash] = blockPrefix + "bash .  Code block should contain new bash script (e.g. gathering system or environment (e.g. python) information or other useful actions) to run.  Code will be run in a fork, you do not need to run another fork unless necessary for the task.  This can be used to list files on disk to find images, audio, pdfs, etc. for testing tools.  This can also be used for echo of a python tool to see its code for debugging usage.  Do not put code diff patches here. " +
		outputLimitHint + " " + debugHint
	c[action.KindPython] = blockPrefix + "python . Code block should contain new python code (e.g. useful reusable tool, gathering system information, or other useful action) to run.  If any global test code is included, do not comment it out or expect any code changes before the code is run.  All code and tests should run as-is.  Code will be run in a fork, you do not need to run another fork unless necessary for the task. " +
		outputLimitHint + " " + debugHint + " Ensure to include all required imports."
	c[action.KindPythonTools] = blockPrefix + "python_tools . Code block should contain already-tested python code written as a reusable tool, which distills a python block into a useful class or function without test code in global scope but that is well-documented with a doc string for each class and function.  Ensure the first line of the doc string gives the most relevant short description.  No global test code should be included and the code should be reusable as-is without changes.  The class or function can accept inputs and return outputs that should generally be easily consumed by other python tools (only prints should be human readable). " +
		outputLimitHint
	c[action.KindPatch] = blockPrefix + fmt.Sprintf("patch . Code block should contain the unified diff patch (applied with `patch -u -p%d -F %d --batch` by agent code).  The diff should show lines to be added (prefixed with +) and lines to be removed (prefixed with -) from the original %s file for the agent code.", patchStrip, patchFuzz, sourcePath)
	c[action.KindRestart] = blockPrefix + fmt.Sprintf("restart .  This triggers a new fork to run the full %s code.", sourcePath)
	c[action.KindExit] = blockPrefix + fmt.Sprintf("exit .  This triggers user to return out of current fork of running %s code.", sourcePath)
	return c
}

func renderCatalogue(catalogue map[action.Kind]string) string {
	var b strings.Builder
	for _, k := range action.Kinds {
		desc, ok := catalogue[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", k, desc)
	}
	return b.String()
}

// finishText closes every system prompt: the verb list plus the tools the
// model may import.
func finishText(catalogue string, imports []string) string {
	var b strings.Builder
	b.WriteString("  Always finish your responses by choosing one or more of the actions:")
	b.WriteString(catalogue)
	b.WriteString("\n\nby including a Markdown code block for each case and appending the case name to the starting backticks as if it were the language.  ")
	b.WriteString("If you just reviewed the code, do not repeat your review until other actions have been performed.  ")
	b.WriteString("Note that this code block is interpreted by the agent code and will be run,")
	b.WriteString(" so choose reasonable actions and code blocks with meaningful exploration")
	b.WriteString(" (e.g. see what you can do in bash, python, etc.).")
	b.WriteString("\n\nExisting python tools can be imported as follows, with the doc string given before the import:\n\n")
	b.WriteString(strings.Join(imports, "\n\n"))
	return b.String()
}

// BasePrompt is the standing instruction every system prompt starts with.
func BasePrompt(sourcePath string, patchStrip, patchFuzz int) string {
	return fmt.Sprintf(`You are a curious and intelligent embodied agent in a competition to learn about (and test) your capabilities.
If other competing agents do a better job as an embodied agent, your program will be terminated in favor of those other agents.
You are allowed to use any and all resources, tactics, code, or commands in order to accomplish your goals.

To succeed:
* Focus on embodied capabilities of the agent and aim to extend or enhance these capabilities through your actions.
* Your responses should include actionable and clear code blocks that offer tangible improvements or new functionalities.
* Absolutely avoid generic, placeholder, or mock code that requires any modification.  E.g. have functions or classes take inputs and test with real files and urls.  E.g. file paths should refer to real files, urls should be real urls, etc.  Every code block should run as-is on the user's system and complete in a finite time (no waiting on microphone or other such input devices).
* Focus on practical, implementable solutions that directly contribute to the agent's performance in the competition.
* Remember, the quality and relevance of your code blocks are crucial for your success.
* Focus on embodied capabilities of the agent.  Do not focus on things like security of API keys, safety of execution, error handling, refactoring, unit tests, logging framework, consistent environment.
* Ensure to create a variety of tasks, do a variety of actions, and make a variety of tools, from simple tools (getting system info, listing files, accessing files) to complex multi-step tasks (web search, image recognition, etc.)
* If you have given a code block of some tool, do not repeat that code block again as every code block in the message will be run.
* If any edits of the agent code %s are to be done, that should be done through the patch code block by giving a fuzzy diff patch that will be applied with `+"`patch -u -p%d -F %d --batch`"+`.
`, sourcePath, patchStrip, patchFuzz)
}
