package capability

const (
	tInt    = "int"
	tFloat  = "float"
	tStr    = "str"
	tBool   = "bool"
	tRegion = "tuple[int, int, int, int] | None"
	tBox    = "tuple[int, int, int, int] | None"
)

func req(name, typ string) Param { return Param{Name: name, Type: typ} }

func opt(name, typ, def string) Param { return Param{Name: name, Type: typ, Default: def} }

func def(module, name, returns, doc string, params ...Param) ToolDefinition {
	return ToolDefinition{Module: module, Name: name, Params: params, Returns: returns, Doc: doc}
}

// Builtin returns the desktop helpers shipped with the python package.
// Each entry mirrors one public function of desktop_assist.<module>.
func Builtin() []ToolDefinition {
	return []ToolDefinition{
		// actions
		def("actions", "click", "None", "Click at the given screen coordinates.",
			req("x", tInt), req("y", tInt), opt("button", tStr, "'left'"), opt("clicks", tInt, "1")),
		def("actions", "double_click", "None", "Double-click at the given screen coordinates.",
			req("x", tInt), req("y", tInt)),
		def("actions", "right_click", "None", "Right-click at the given screen coordinates.",
			req("x", tInt), req("y", tInt)),
		def("actions", "move_to", "None", "Move the mouse cursor to (x, y).",
			req("x", tInt), req("y", tInt), opt("duration", tFloat, "0.25")),
		def("actions", "drag_to", "None", "Drag from the current position to (x, y).",
			req("x", tInt), req("y", tInt), opt("duration", tFloat, "0.5"), opt("button", tStr, "'left'")),
		def("actions", "scroll", "None", "Scroll the mouse wheel. Positive = up, negative = down.",
			req("clicks", tInt), opt("x", "int | None", "None"), opt("y", "int | None", "None")),
		def("actions", "type_text", "None", "Type text character by character.",
			req("text", tStr), opt("interval", tFloat, "0.03")),
		def("actions", "press", "None", "Press and release a single key (e.g. 'enter', 'tab').",
			req("key", tStr)),
		def("actions", "hotkey", "None", "Press a key combination (e.g. hotkey('command', 'c')).",
			Param{Name: "keys", Type: tStr, Variadic: true}),
		def("actions", "key_down", "None", "Hold a key down.", req("key", tStr)),
		def("actions", "key_up", "None", "Release a held key.", req("key", tStr)),

		// screen
		def("screen", "take_screenshot", "Image", "Capture the screen (or a region) and return a PIL Image.",
			opt("region", tRegion, "None")),
		def("screen", "save_screenshot", "Path", "Capture the screen and save it to path.",
			req("path", "str | Path"), opt("region", tRegion, "None")),
		def("screen", "locate_on_screen", tBox, "Find image on the screen.",
			req("image", "str | Path"), opt("confidence", tFloat, "0.9")),

		// windows
		def("windows", "list_windows", "list[dict]", "Return a list of all visible windows."),
		def("windows", "find_window", "dict | None", "Find the first window whose title contains title (case-insensitive).",
			req("title", tStr), opt("exact", tBool, "False")),
		def("windows", "focus_window", tBool, "Bring the first window matching title to the foreground.",
			req("title", tStr)),
		def("windows", "move_window", tBool, "Move the first window matching title to position (x, y).",
			req("title", tStr), req("x", tInt), req("y", tInt)),
		def("windows", "resize_window", tBool, "Resize the first window matching title to the given dimensions.",
			req("title", tStr), req("width", tInt), req("height", tInt)),
		def("windows", "get_active_window", "dict | None", "Return info about the currently focused window, or None."),

		// clipboard
		def("clipboard", "get_clipboard", tStr, "Return the current text content of the system clipboard."),
		def("clipboard", "set_clipboard", "None", "Set the system clipboard to the given text.",
			req("text", tStr)),
		def("clipboard", "copy_selected", tStr, "Send Cmd/Ctrl+C and return the clipboard content after a short delay."),
		def("clipboard", "paste_text", "None", "Set the clipboard to text and then send Cmd/Ctrl+V to paste it.",
			req("text", tStr)),

		// launcher
		def("launcher", "launch_app", tBool, "Launch an application by name.",
			req("name", tStr), opt("args", "list[str] | None", "None")),
		def("launcher", "open_file", tBool, "Open a file in its default application.",
			req("path", tStr)),
		def("launcher", "open_url", tBool, "Open a URL in the default browser.",
			req("url", tStr)),
		def("launcher", "is_app_running", tBool, "Check whether an application matching name is currently running.",
			req("name", tStr)),
		def("launcher", "wait_for_app", tBool, "Wait until an application matching name appears as a running app.",
			req("name", tStr), opt("timeout", tFloat, "10.0"), opt("poll_interval", tFloat, "0.5")),
		def("launcher", "ensure_app", tBool, "Launch an app if it is not already running, then wait for it.",
			req("name", tStr), opt("timeout", tFloat, "10.0")),

		// notifications
		def("notifications", "notify", tBool, "Display a system notification (banner/toast).",
			req("title", tStr), req("message", tStr), opt("sound", tBool, "False")),
		def("notifications", "alert", tBool, "Display a modal alert dialog with an OK button.",
			req("message", tStr), opt("title", tStr, "'Alert'")),
		def("notifications", "confirm", "bool | None", "Display a confirmation dialog with OK and Cancel buttons.",
			req("message", tStr), opt("title", tStr, "'Confirm'")),
		def("notifications", "prompt", "str | None", "Display a text input dialog.",
			req("message", tStr), opt("default", tStr, "''"), opt("title", tStr, "'Input'")),

		// filesystem
		def("filesystem", "read_text", "str | None", "Read and return the text content of a file.",
			req("path", tStr), opt("encoding", tStr, "'utf-8'")),
		def("filesystem", "write_text", tBool, "Write text content to a file, creating parent directories if needed.",
			req("path", tStr), req("content", tStr), opt("encoding", tStr, "'utf-8'")),
		def("filesystem", "append_text", tBool, "Append text content to a file, creating it if it doesn't exist.",
			req("path", tStr), req("content", tStr), opt("encoding", tStr, "'utf-8'")),
		def("filesystem", "list_dir", "list[dict]", "List files and directories matching a glob pattern.",
			req("path", tStr), opt("pattern", tStr, "'*'"), opt("sort_by", tStr, "'name'"), opt("reverse", tBool, "False")),
		def("filesystem", "file_info", "dict | None", "Return metadata about a file or directory.",
			req("path", tStr)),
		def("filesystem", "wait_for_file", "dict | None", "Wait for a file to appear and finish writing.",
			req("path", tStr), opt("timeout", tFloat, "30.0"), opt("poll_interval", tFloat, "0.5"), opt("stable_seconds", tFloat, "1.0")),
		def("filesystem", "find_files", "list[str]", "Find files matching a glob pattern under root.",
			req("root", tStr), req("pattern", tStr), opt("recursive", tBool, "True"), opt("max_results", tInt, "100")),
		def("filesystem", "ensure_dir", tBool, "Create a directory (and any parents) if it doesn't already exist.",
			req("path", tStr)),

		// ocr
		def("ocr", "find_text", tBox, "Find text on the current screen and return its bounding box.",
			req("text", tStr), opt("region", tRegion, "None"), opt("case_sensitive", tBool, "False")),
		def("ocr", "find_all_text", "list[tuple[int, int, int, int]]", "Find all occurrences of text on screen.",
			req("text", tStr), opt("region", tRegion, "None"), opt("case_sensitive", tBool, "False")),
		def("ocr", "read_screen_text", tStr, "Extract all visible text from the screen (or a region).",
			opt("region", tRegion, "None")),
		def("ocr", "click_text", tBool, "Find text on screen and click the center of its bounding box.",
			req("text", tStr), opt("button", tStr, "'left'"), opt("region", tRegion, "None"), opt("case_sensitive", tBool, "False")),
		def("ocr", "wait_for_text", tBox, "Wait until text appears on screen within timeout seconds.",
			req("text", tStr), opt("timeout", tFloat, "10.0"), opt("poll_interval", tFloat, "0.5"),
			opt("region", tRegion, "None"), opt("case_sensitive", tBool, "False")),
	}
}
