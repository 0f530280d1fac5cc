package event

// Cell addresses one square on the board.
type Cell struct {
	R int `json:"r"`
	C int `json:"c"`
}

// Info describes the puzzle behind a session.
type Info struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Type   string `json:"type,omitempty"`
}

// SeedCell is one square of the initial grid.
type SeedCell struct {
	Black  bool   `json:"black,omitempty"`
	Value  string `json:"value,omitempty"`
	Number int    `json:"number,omitempty"`
}

// Clues holds the across and down clue lists.
type Clues struct {
	Across []string `json:"across"`
	Down   []string `json:"down"`
}

// ClockSeed is the initial clock snapshot.
type ClockSeed struct {
	LastUpdated int64 `json:"lastUpdated"`
	TotalTime   int64 `json:"totalTime"`
	Paused      bool  `json:"paused"`
}

// ChatMessage is one message in the session chat log.
type ChatMessage struct {
	Text      string `json:"text"`
	Sender    string `json:"sender,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ChatSeed is the initial chat snapshot.
type ChatSeed struct {
	Messages []ChatMessage `json:"messages"`
}

// GameSeed is the origin snapshot a session is created from.
type GameSeed struct {
	Info       Info         `json:"info"`
	Grid       [][]SeedCell `json:"grid"`
	Solution   [][]string   `json:"solution"`
	Circles    []Cell       `json:"circles,omitempty"`
	Chat       ChatSeed     `json:"chat"`
	Clues      Clues        `json:"clues"`
	Clock      ClockSeed    `json:"clock"`
	Solved     bool         `json:"solved,omitempty"`
	ThemeColor string       `json:"themeColor,omitempty"`
}

// BattleSeed links a session to the battle it was created for.
type BattleSeed struct {
	BID  string `json:"bid"`
	Team int    `json:"team"`
}

// CreateParams is the payload of the create event.
type CreateParams struct {
	PID     string      `json:"pid"`
	Version float64     `json:"version"`
	Game    GameSeed    `json:"game"`
	Battle  *BattleSeed `json:"battleData,omitempty"`
}

// UpdateCellParams fills or edits one cell.
type UpdateCellParams struct {
	Cell      Cell   `json:"cell"`
	Value     string `json:"value"`
	Color     string `json:"color,omitempty"`
	Pencil    bool   `json:"pencil,omitempty"`
	ID        string `json:"id"`
	Autocheck bool   `json:"autocheck"`
}

// UpdateCursorParams moves one user's cursor.
type UpdateCursorParams struct {
	Cell      Cell   `json:"cell"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// AddPingParams flashes a cell for everyone.
type AddPingParams struct {
	Cell      Cell   `json:"cell"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// UpdateDisplayNameParams renames a user.
type UpdateDisplayNameParams struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// UpdateColorParams recolors a user.
type UpdateColorParams struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// ClockAction is a clock state transition.
type ClockAction string

const (
	ClockStart  ClockAction = "start"
	ClockPause  ClockAction = "pause"
	ClockResume ClockAction = "resume"
	ClockStop   ClockAction = "stop"
)

// UpdateClockParams drives the shared clock.
type UpdateClockParams struct {
	Action    ClockAction `json:"action"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// ScopeParams names the cells a check or reveal applies to.
type ScopeParams struct {
	Scope []Cell `json:"scope"`
	ID    string `json:"id,omitempty"`
}

// ResetParams clears a scope of cells. Force also clears verified cells.
type ResetParams struct {
	Scope []Cell `json:"scope"`
	Force bool   `json:"force,omitempty"`
}

// ChatParams appends a message to the session chat.
type ChatParams struct {
	Text     string `json:"text"`
	Sender   string `json:"sender"`
	SenderID string `json:"senderId"`
}

// SendChatMessageParams mirrors a chat message onto the team stream.
type SendChatMessageParams struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Sender  string `json:"sender,omitempty"`
}

// StartGameParams has no fields; the event marks the session started.
type StartGameParams struct{}
