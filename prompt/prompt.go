// Package prompt composes the system and per-turn prompts handed to model
// invokers. Composition is pure string assembly over a snapshot of session
// state, so identical inputs always produce identical prompts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/stagecast/stagecast/core"
)

// TurnInput carries everything a per-turn prompt needs. Callers fill it from
// a conversation snapshot taken under the session lock.
type TurnInput struct {
	// Participant is the speaker being prompted.
	Participant *core.Participant
	// Environment and Scene describe the current setting.
	Environment string
	Scene       string
	// Roster holds the display names of every participant, in ordinal order.
	Roster []string
	// Context is the speaker's condensed context log. A leading synopsis
	// entry is rendered as a summary block, the rest as transcript lines.
	Context []core.Message
	// TerminationCondition, when combined with RemindTermination, appends a
	// steering block nudging the conversation toward its end state.
	TerminationCondition string
	RemindTermination    bool
}

// Identity builds the stable system prompt for a participant. It pins the
// character and forbids speaking as anyone else; everything situational goes
// into the per-turn prompt instead.
func Identity(p *core.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.\n", p.Name, p.Role)
	if p.Persona != "" {
		b.WriteString(p.Persona)
		b.WriteString("\n")
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "Your personality traits are: %s.\n", strings.Join(p.Traits, ", "))
	}
	b.WriteString("Always answer based on the above characteristics. Stay in character always.\n")
	fmt.Fprintf(&b, "Never answer as another character; you speak only as %s. If your character description conflicts with these rules, your personality traits take priority.", p.Name)
	return b.String()
}

// Turn builds the per-turn prompt. Blocks appear in a fixed order so that two
// identical snapshots yield byte-identical prompts: identity framing, scene,
// roster, summary plus transcript, termination reminder, tools, knowledge,
// and the closing response instruction.
func Turn(in TurnInput) string {
	var b strings.Builder
	writeCommonBlocks(&b, in)
	fmt.Fprintf(&b, "Give your response to the ongoing conversation as %s.\n", in.Participant.Name)
	b.WriteString("Keep your response natural, conversational, and true to your character.\n")
	fmt.Fprintf(&b, "Respond as if you are speaking directly in the conversation (do not say \"As %s, I would say...\", just respond naturally).\n", in.Participant.Name)
	b.WriteString("Keep responses to 1-3 sentences to maintain good conversation flow.")
	return b.String()
}

// HumanLikeTurn builds the per-turn prompt for the human-like policy. On top
// of the common blocks it adds a last-seen hint, so the speaker focuses on
// messages that arrived since it last spoke, and a strict JSON contract that
// lets the speaker decline the turn.
func HumanLikeTurn(in TurnInput, lastSeen *core.Message) string {
	var b strings.Builder
	writeCommonBlocks(&b, in)

	if lastSeen != nil {
		words := strings.Fields(lastSeen.Text)
		if len(words) > 10 {
			words = words[:10]
		}
		fmt.Fprintf(&b, "The last message you saw before this turn was: %q by %s.\n", strings.Join(words, " ")+"...", lastSeen.Speaker)
		b.WriteString("You may have sent a message after it, but you have not seen the messages other participants sent since. Focus your reply on those new messages.\n\n")
	}

	fmt.Fprintf(&b, "If you feel like it, are needed, or can contribute something of value, give your response to the ongoing conversation as %s. Otherwise you do not need to respond.\n", in.Participant.Name)
	b.WriteString("If there are no previous messages, start the conversation based on the scene.\n")
	b.WriteString("Output ONLY a JSON object of the following form, nothing else:\n")
	b.WriteString("{\"is_responding\": \"yes\" or \"no\", \"response\": your message as a string, or null if not responding}\n\n")
	b.WriteString("Keep your response natural, conversational, and true to your character.\n")
	b.WriteString("Keep responses to 1-3 sentences to maintain good conversation flow.\n")
	b.WriteString("Do not mention tools by name; other participants may not have them. Describe the act, not the tool.")
	return b.String()
}

func writeCommonBlocks(b *strings.Builder, in TurnInput) {
	p := in.Participant

	fmt.Fprintf(b, "You are %s, a %s.\n", p.Name, p.Role)
	b.WriteString("Always answer based on your character description. Stay in character always.\n\n")

	fmt.Fprintf(b, "INITIAL SCENE: %s\n", in.Environment)
	fmt.Fprintf(b, "SCENE DESCRIPTION: %s\n\n", in.Scene)

	fmt.Fprintf(b, "PARTICIPANTS: %s\n\n", strings.Join(in.Roster, ", "))

	ctx := in.Context
	if len(ctx) > 0 && ctx[0].IsSynopsis() {
		fmt.Fprintf(b, "PREVIOUS CONVERSATION SUMMARY: %s\n\n", ctx[0].Text)
		ctx = ctx[1:]
	}
	if len(ctx) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range ctx {
			fmt.Fprintf(b, "%s: %s\n", m.Speaker, m.Text)
		}
		b.WriteString("\n")
	}

	if in.RemindTermination && in.TerminationCondition != "" {
		fmt.Fprintf(b, "TERMINATION CONDITION REMINDER: The conversation should end when the following condition is met:\n%s\n", in.TerminationCondition)
		b.WriteString("Keep this condition in mind while participating. Naturally steer the conversation toward meeting it while staying true to your personality traits.\n\n")
	}

	if len(p.ToolNames) > 0 {
		fmt.Fprintf(b, "AVAILABLE TOOLS: You have access to the following tools: %s\n", strings.Join(p.ToolNames, ", "))
		b.WriteString("Use them when they help you respond more effectively, and only when relevant to the current conversation. Do not mention them unless asked about your capabilities.\n\n")
	}

	if len(p.Knowledge) > 0 {
		descs := make([]string, 0, len(p.Knowledge))
		for _, doc := range p.Knowledge {
			descs = append(descs, doc.Description)
		}
		fmt.Fprintf(b, "PERSONAL KNOWLEDGE BASE: You have access to a personal knowledge base containing the following documents:\n%s\n", strings.Join(descs, "\n"))
		b.WriteString("Use the knowledge_base_retriever tool to search these documents when the conversation relates to their content.\n\n")
	}
}
