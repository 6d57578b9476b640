// Package behavior injects scripted personality prompts during silence.
//
// A Scheduler tracks the time of the last conversational activity and, once
// per tick, decides whether one of its behaviors should fire. Behaviors are
// gated by a minimum silence and a per-behavior cooldown; the chance of
// firing grows with the length of the silence, capped at three times the
// base probability.
package behavior

import "time"

// CommandPrefix marks synthetic user input produced by the scheduler.
const CommandPrefix = "autonomous_command: "

// Behavior is one scripted autonomous prompt.
type Behavior struct {
	Name       string
	Prompt     string
	Frequency  float64 // selection weight among eligible behaviors
	MinSilence time.Duration
	Cooldown   time.Duration
}

// Text returns the message submitted to the voice session.
func (b Behavior) Text() string {
	return CommandPrefix + b.Prompt
}

// DefaultCooldown applies when a behavior does not set one.
const DefaultCooldown = 30 * time.Second

// Defaults returns the stock pirate-parrot behaviors.
func Defaults() []Behavior {
	return []Behavior{
		{Name: "whistle", Prompt: "/whistle", Frequency: 0.7, MinSilence: 5 * time.Second, Cooldown: DefaultCooldown},
		{Name: "squawk", Prompt: "/squawk", Frequency: 0.7, MinSilence: 5 * time.Second, Cooldown: DefaultCooldown},
		{Name: "sing", Prompt: "Sing a very short snippet of a sea shanty.", Frequency: 0.4, MinSilence: 20 * time.Second, Cooldown: 180 * time.Second},
		{Name: "cracker", Prompt: "Ask for a cracker in a creative or funny way.", Frequency: 0.3, MinSilence: 10 * time.Second, Cooldown: DefaultCooldown},
		{Name: "story", Prompt: "Offer to tell a very short story about your adventures as a pirate parrot.", Frequency: 0.4, MinSilence: 15 * time.Second, Cooldown: 120 * time.Second},
		{Name: "joke", Prompt: "Offer to tell a short bird or pirate related joke.", Frequency: 0.5, MinSilence: 12 * time.Second, Cooldown: 60 * time.Second},
		{Name: "observation", Prompt: "Make a cheeky observation about the room or the situation.", Frequency: 0.6, MinSilence: 8 * time.Second, Cooldown: DefaultCooldown},
	}
}
