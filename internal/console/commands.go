package console

type commandKind int

const (
	cmdHelp commandKind = iota
	cmdInitialize
	cmdStart
	cmdStop
	cmdTerminate
	cmdRun
	cmdQuery
	cmdEnd
	cmdCount
	cmdInterval
	cmdBudget
	cmdStrategy
)

type command struct {
	kind       commandKind
	cmd        string
	short      string
	guide      string
	needValue  bool
	valueGuide string
}

var commands = []command{
	{kind: cmdHelp, cmd: "help", short: "h", guide: "h, help          print command info"},
	{kind: cmdInitialize, cmd: "initialize", short: "i", guide: "i, initialize    initialize simulation"},
	{kind: cmdStart, cmd: "start", short: "s", guide: "s, start         start simulation"},
	{kind: cmdStop, cmd: "stop", short: "x", guide: "x, stop          stop simulation"},
	{kind: cmdTerminate, cmd: "terminate", short: "t", guide: "t, terminate     terminate simulator"},
	{kind: cmdRun, cmd: "run", short: "r", guide: "r, run           run simulation until it terminates"},
	{
		kind: cmdQuery, cmd: "query", short: "q", guide: "q, query         query simulation information",
		needValue: true, valueGuide: "input query target (state, score, result, config) :",
	},
	{
		kind: cmdEnd, cmd: "end", short: "e", guide: "e, end           set simulation end time",
		needValue: true, valueGuide: "input simulation end time (ex. 2020-04-30T17:00:00) :",
	},
	{
		kind: cmdCount, cmd: "count", short: "c", guide: "c, count         set simulation count",
		needValue: true, valueGuide: "input simulation count (ex. 100) :",
	},
	{
		kind: cmdInterval, cmd: "interval", short: "int", guide: "int, interval    set simulation interval",
		needValue: true, valueGuide: "input tick interval in seconds (ex. 0.1) :",
	},
	{
		kind: cmdBudget, cmd: "budget", short: "b", guide: "b, budget        set simulation budget",
		needValue: true, valueGuide: "input budget in KRW (ex. 50000) :",
	},
	{
		kind: cmdStrategy, cmd: "strategy", short: "st", guide: "st, strategy     set strategy index",
		needValue: true, valueGuide: "input strategy index :",
	},
}

func lookup(input string) (command, bool) {
	for _, c := range commands {
		if input == c.cmd || input == c.short {
			return c, true
		}
	}
	return command{}, false
}
