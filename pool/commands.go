package pool

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

type command struct {
	args     int  // exact number of arguments after the command
	freeText bool // the last argument may contain commas
	usage    string
	run      func(p *Pool, args []string) string
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"?":         {0, false, "?: this overview", cmdHelp},
		"status":    {0, false, "status: state of every stream", cmdStatus},
		"labels":    {0, false, "labels: label of every stream", cmdLabels},
		"buffers":   {0, false, "buffers: pending confirmation trackers", cmdBuffers},
		"requests":  {0, false, "requests: targets of every stream", cmdRequests},
		"send":      {2, true, "send,id,data: write data to a stream", cmdSend},
		"recon":     {1, false, "recon,id: reconnect a stream", cmdRecon},
		"reload":    {1, false, "reload,id|all: rebuild from the config file", cmdReload},
		"store":     {1, false, "store,id: write the stream settings to the config file", cmdStore},
		"alter":     {2, false, "alter,id,param:value: change label, baudrate, ttl, eol or a transport setting", cmdAlter},
		"echo":      {1, false, "echo,id: toggle sending received data back", cmdEcho},
		"tunnel":    {2, false, "tunnel,id1,id2: forward both ways between two streams", cmdTunnel},
		"link":      {2, false, "link,source,id: forward a source to a stream", cmdLink},
		"addtcp":    {3, false, "addtcp,id,ip:port,label: add a TCP client", addNetwork("tcp")},
		"addudp":    {3, false, "addudp,id,ip:port,label: add a UDP stream", addNetwork("udp")},
		"addws":     {3, false, "addws,id,url,label: add a WebSocket client", addNetwork("websocket")},
		"addserial": {3, false, "addserial,id,port:baudrate,label: add a serial port", cmdAddSerial},
		"addlocal":  {3, false, "addlocal,id,label,source: add a local stream fed by source", cmdAddLocal},
		"remove":    {1, false, "remove,id: remove a stream", cmdRemove},
	}
	commands["connect"] = commands["tunnel"]
	commands["forward"] = commands["link"]
}

// Handle runs one admin command line and returns the reply. An empty line
// lists the streams.
func (p *Pool) Handle(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		p.metrics.RecordCommand("list")
		return p.list()
	}

	name, rest, _ := strings.Cut(line, ",")
	name = strings.ToLower(strings.TrimSpace(name))
	cmd, ok := commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command '%s', try ?", name)
	}
	p.metrics.RecordCommand(name)

	var args []string
	switch {
	case cmd.args == 0:
		if rest != "" {
			return badArgs(0)
		}
	case rest == "":
		return badArgs(cmd.args)
	case cmd.freeText:
		args = strings.SplitN(rest, ",", cmd.args)
	default:
		args = strings.Split(rest, ",")
	}
	if len(args) != cmd.args {
		return badArgs(cmd.args)
	}
	return cmd.run(p, args)
}

func badArgs(n int) string {
	return fmt.Sprintf("Bad amount of arguments, should be %d", n)
}

func (p *Pool) list() string {
	ms := p.all()
	if len(ms) == 0 {
		return "No streams yet"
	}
	var sb strings.Builder
	for _, m := range ms {
		sb.WriteString(m.s.Info())
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func cmdHelp(_ *Pool, _ []string) string {
	var sb strings.Builder
	sb.WriteString("Stream pool commands\n")
	for _, name := range sortedKeys(commands) {
		if name == "connect" || name == "forward" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(commands[name].usage)
		sb.WriteString("\n")
	}
	sb.WriteString(" connect and forward are aliases of tunnel and link, an empty line lists the streams")
	return sb.String()
}

func cmdStatus(p *Pool, _ []string) string {
	ms := p.all()
	if len(ms) == 0 {
		return "No streams yet"
	}
	var sb strings.Builder
	for _, m := range ms {
		id := m.s.ID()
		m.mu.Lock()
		attempts, reconnecting, pending := m.attempts, m.reconnecting, m.reconnect.String()
		m.mu.Unlock()

		fmt.Fprintf(&sb, "%s attempts=%d", m.s.Info(), attempts)
		if reconnecting {
			fmt.Fprintf(&sb, " reconnect=%s", pending)
		}
		if p.issues.IssueActive(health.IssueKey(id, IssueConnectionLost)) {
			sb.WriteString(" !conlost")
		}
		if p.issues.IssueActive(health.IssueKey(id, IssueIdle)) {
			sb.WriteString(" !conidle")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func cmdLabels(p *Pool, _ []string) string {
	var sb strings.Builder
	for _, m := range p.all() {
		label := m.s.Label()
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(&sb, "%s -> %s\n", m.s.ID(), label)
	}
	if sb.Len() == 0 {
		return "No streams yet"
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func cmdBuffers(p *Pool, _ []string) string {
	var lines []string
	for _, key := range p.Trackers() {
		if t := p.tracker(key); t != nil {
			lines = append(lines, t.Info())
		}
	}
	if len(lines) == 0 {
		return "No buffers in use"
	}
	return strings.Join(lines, "\n")
}

func cmdRequests(p *Pool, _ []string) string {
	var sb strings.Builder
	for _, m := range p.all() {
		targets := m.s.Targets().Snapshot()
		if len(targets) == 0 {
			continue
		}
		ids := make([]string, len(targets))
		for i, w := range targets {
			ids[i] = w.ID()
		}
		fmt.Fprintf(&sb, "%s -> %s\n", m.s.ID(), strings.Join(ids, ", "))
	}
	if sb.Len() == 0 {
		return "No requests yet"
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func cmdSend(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	if p.lookup(id) == nil {
		return "No such stream: " + id
	}
	if written := p.WriteToStream(id, args[1], ""); written == "" {
		return "Failed to send to " + id
	}
	return "Sent to " + id
}

func cmdRecon(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	if !p.Reconnect(id) {
		return "No such stream: " + id
	}
	return "Reconnecting " + id
}

func cmdReload(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	if strings.EqualFold(id, "all") {
		if err := p.ReloadAll(); err != nil {
			return "Reload failed: " + err.Error()
		}
		return fmt.Sprintf("Reloaded %d streams", p.Count())
	}
	if err := p.Reload(id); err != nil {
		return "Reload failed: " + err.Error()
	}
	if p.lookup(id) == nil {
		return "Removed " + id + ", no longer in config"
	}
	return "Reloaded " + id
}

func cmdStore(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	if err := p.Store(id); err != nil {
		return "Store failed: " + err.Error()
	}
	return "Stored " + id
}

func cmdAlter(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	m := p.lookup(id)
	if m == nil {
		return "No such stream: " + id
	}
	param, value, ok := strings.Cut(args[1], ":")
	if !ok {
		return "Expected param:value"
	}
	param = strings.ToLower(strings.TrimSpace(param))
	value = strings.TrimSpace(value)

	switch param {
	case "label":
		m.s.SetLabel(value)
	case "ttl":
		ttl, err := parseTTL(value)
		if err != nil {
			return "Invalid ttl: " + value
		}
		m.s.SetReaderIdleSeconds(ttl)
		p.armIdle(m)
	case "eol":
		m.s.SetEOL(stream.ParseEOL(value))
	default:
		alt, ok := m.s.(stream.Alterer)
		if !ok || !alt.Alter(param, value) {
			return fmt.Sprintf("Can't alter %s of %s", param, id)
		}
	}

	if p.store != nil {
		if err := p.store.PutStream(m.s.Config()); err != nil {
			p.logger.Warn("Failed to keep altered settings", "stream", id, "error", err)
		}
	}
	return fmt.Sprintf("Altered %s of %s to %s", param, id, value)
}

// parseTTL accepts seconds or a duration like 5m, -1 or 0 disable
func parseTTL(value string) (int, error) {
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	return int(d / time.Second), nil
}

func cmdEcho(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	on, err := p.ToggleEcho(id)
	if err != nil {
		return "Echo failed: " + err.Error()
	}
	if on {
		return "Echo enabled for " + id
	}
	return "Echo disabled for " + id
}

func cmdTunnel(p *Pool, args []string) string {
	a, b := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	if err := p.Tunnel(a, b); err != nil {
		return "Tunnel failed: " + err.Error()
	}
	return fmt.Sprintf("Tunnel between %s and %s", a, b)
}

func cmdLink(p *Pool, args []string) string {
	src, dst := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	_, w := p.writable(dst)
	if w == nil {
		return "No writable stream: " + dst
	}
	if !p.AddForwarding(src, w) {
		return "Failed to link " + src + " to " + dst
	}
	return fmt.Sprintf("Linked %s to %s", src, dst)
}

func (p *Pool) addAndKeep(sc config.StreamConfig) string {
	s, err := p.AddStream(sc)
	if err != nil {
		return "Failed to add " + sc.ID + ": " + err.Error()
	}
	if p.store != nil {
		if err := p.store.PutStream(s.Config()); err != nil {
			p.logger.Warn("Failed to keep new stream", "stream", sc.ID, "error", err)
		}
	}
	return fmt.Sprintf("Added %s stream %s", sc.Type, s.ID())
}

func addNetwork(typ string) func(*Pool, []string) string {
	return func(p *Pool, args []string) string {
		return p.addAndKeep(config.StreamConfig{
			ID:      strings.TrimSpace(args[0]),
			Type:    typ,
			Address: strings.TrimSpace(args[1]),
			Label:   strings.TrimSpace(args[2]),
		})
	}
}

func cmdAddSerial(p *Pool, args []string) string {
	port, baud, found := strings.Cut(strings.TrimSpace(args[1]), ":")
	sc := config.StreamConfig{
		ID:      strings.TrimSpace(args[0]),
		Type:    "serial",
		Address: port,
		Label:   strings.TrimSpace(args[2]),
	}
	if found {
		n, err := strconv.Atoi(baud)
		if err != nil {
			return "Invalid baudrate: " + baud
		}
		sc.Baudrate = n
	}
	return p.addAndKeep(sc)
}

func cmdAddLocal(p *Pool, args []string) string {
	id, label, source := strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), strings.TrimSpace(args[2])
	reply := p.addAndKeep(config.StreamConfig{ID: id, Type: "local", Label: label})
	if !strings.HasPrefix(reply, "Added") {
		return reply
	}
	_, w := p.writable(id)
	if w == nil || !p.AddForwarding(source, w) {
		return reply + ", but source " + source + " not found"
	}
	return reply + " fed by " + source
}

func cmdRemove(p *Pool, args []string) string {
	id := strings.TrimSpace(args[0])
	if !p.RemoveStream(id) {
		return "No such stream: " + id
	}
	if p.store != nil {
		p.store.RemoveStream(id)
	}
	return "Removed " + id
}
