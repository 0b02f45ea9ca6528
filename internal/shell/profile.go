package shell

// DefaultReadySignal is printed by the default init command to end
// banner-discard mode.
const DefaultReadySignal = "__CMDPROXY_READY__"

// Transport names accepted in Profile.Transport.
const (
	TransportPipe = "pipe"
	TransportPTY  = "pty"
)

// Profile describes one interpreter and how to talk to it.
type Profile struct {
	Name  string
	Shell string
	Args  []string
	Env   []string
	Dir   string

	// InitCommand is submitted by Start. ReadySignal is the suffix of the
	// line that ends banner-discard mode; for interpreters that echo input
	// it is usually the init command itself.
	InitCommand string
	ReadySignal string

	// ExitCommand is submitted by Close before the process is released.
	ExitCommand string

	// StatusExpr expands to the last exit status inside the sentinel echo.
	StatusExpr string

	// LineEnding terminates every line written to the interpreter.
	LineEnding string

	// StripEcho drops the echo of the submitted command from its output.
	StripEcho bool
	DropBlank bool

	Transport string
}

// DefaultProfile is a POSIX sh reading commands from a pipe.
func DefaultProfile() Profile {
	return Profile{
		Name:        "sh",
		Shell:       "/bin/sh",
		InitCommand: "echo " + DefaultReadySignal,
		ReadySignal: DefaultReadySignal,
		ExitCommand: "exit",
		StatusExpr:  "$?",
		LineEnding:  "\n",
		Transport:   TransportPipe,
	}
}

func (p Profile) withDefaults() Profile {
	def := DefaultProfile()
	if p.Shell == "" {
		p.Shell = def.Shell
	}
	if p.Name == "" {
		p.Name = p.Shell
	}
	if p.LineEnding == "" {
		p.LineEnding = def.LineEnding
	}
	if p.Transport == "" {
		p.Transport = TransportPipe
	}
	return p
}
