// cmd/flowpack builds rules containers from TOML flow descriptions and
// inspects existing containers. The host tooling counterpart of the
// module's codec.
package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"canflow-go/wbp"
	"canflow-go/x/mathx"
)

// flowFile is the authoring format. Signals are referenced by name from
// conditions; condition indices by position from rules.
type flowFile struct {
	Signals    []signalDef `toml:"signal"`
	Conditions []condDef   `toml:"condition"`
	Rules      []ruleDef   `toml:"rule"`
}

type signalDef struct {
	Name      string  `toml:"name"`
	CanID     uint32  `toml:"can_id"`
	StartBit  uint16  `toml:"start_bit"`
	BitLength uint8   `toml:"bit_length"`
	BigEndian bool    `toml:"big_endian"`
	Signed    bool    `toml:"signed"`
	Factor    float32 `toml:"factor"`
	Offset    float32 `toml:"offset"`
}

type condDef struct {
	Signal string  `toml:"signal"`
	Op     string  `toml:"op"`
	Value1 float32 `toml:"value1"`
	Value2 float32 `toml:"value2"`
}

type ruleDef struct {
	Flow       string      `toml:"flow"`
	Conditions []int       `toml:"conditions"`
	DebounceMS uint32      `toml:"debounce_ms"`
	CooldownMS uint32      `toml:"cooldown_ms"`
	Actions    []actionDef `toml:"action"`
}

type actionDef struct {
	Capability string     `toml:"capability"`
	Params     []paramDef `toml:"param"`
}

type paramDef struct {
	Type   string  `toml:"type"`
	Int    int64   `toml:"int"`
	Float  float32 `toml:"float"`
	String string  `toml:"string"`
	Bool   bool    `toml:"bool"`
}

var opCodes = map[string]wbp.Operation{
	"EQ": wbp.OpEQ, "NE": wbp.OpNE, "GT": wbp.OpGT, "GE": wbp.OpGE,
	"LT": wbp.OpLT, "LE": wbp.OpLE, "WITHIN": wbp.OpWithin,
	"OUTSIDE": wbp.OpOutside, "HOLD": wbp.OpHold,
}

func buildContainer(f *flowFile) ([]byte, error) {
	sigIdx := map[string]int{}
	signals := make([]wbp.SignalDef, 0, len(f.Signals))
	for i, s := range f.Signals {
		if s.Factor == 0 {
			s.Factor = 1
		}
		sigIdx[s.Name] = i
		signals = append(signals, wbp.SignalDef{
			CanID: s.CanID, StartBit: s.StartBit, BitLength: s.BitLength,
			BigEndian: s.BigEndian, Signed: s.Signed,
			Factor: s.Factor, Offset: s.Offset,
		})
	}

	conditions := make([]wbp.ConditionDef, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		idx, ok := sigIdx[c.Signal]
		if !ok {
			return nil, fmt.Errorf("condition references unknown signal %q", c.Signal)
		}
		op, ok := opCodes[c.Op]
		if !ok {
			return nil, fmt.Errorf("unknown operation %q", c.Op)
		}
		conditions = append(conditions, wbp.ConditionDef{
			SignalIdx: uint8(idx), Op: op, Value1: c.Value1, Value2: c.Value2,
		})
	}

	var actions []wbp.ActionDef
	rules := make([]wbp.RuleDef, 0, len(f.Rules))
	for _, r := range f.Rules {
		var mask uint32
		for _, ci := range r.Conditions {
			if ci < 0 || ci >= len(f.Conditions) || ci >= 32 {
				return nil, fmt.Errorf("rule %q references condition %d out of range", r.Flow, ci)
			}
			mask |= 1 << ci
		}

		start := len(actions)
		for _, a := range r.Actions {
			def := wbp.ActionDef{CapabilityID: a.Capability}
			for _, p := range a.Params {
				switch p.Type {
				case "float":
					def.Params = append(def.Params, wbp.FloatParam(p.Float))
				case "string":
					def.Params = append(def.Params, wbp.ParamDef{Type: wbp.ParamString, Str: p.String})
				case "bool":
					v := uint16(0)
					if p.Bool {
						v = 1
					}
					def.Params = append(def.Params, wbp.ParamDef{Type: wbp.ParamBool, Raw: v})
				default:
					def.Params = append(def.Params, wbp.ParamDef{Type: wbp.ParamInt, Raw: uint16(p.Int)})
				}
			}
			actions = append(actions, def)
		}

		rules = append(rules, wbp.RuleDef{
			FlowID:        r.Flow,
			ConditionMask: mask,
			ActionStart:   uint8(start),
			ActionCount:   uint8(len(r.Actions)),
			DebounceDS:    uint8(mathx.Min(r.DebounceMS/10, 255)),
			CooldownDS:    uint8(mathx.Min(r.CooldownMS/10, 255)),
		})
	}

	return wbp.BuildRules(signals, conditions, actions, rules)
}

func main() {
	root := &cobra.Command{
		Use:   "flowpack",
		Short: "rules container tooling",
	}

	var out string
	build := &cobra.Command{
		Use:   "build <flow.toml>",
		Short: "compile a flow description into a rules container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f flowFile
			if _, err := toml.DecodeFile(args[0], &f); err != nil {
				return err
			}
			data, err := buildContainer(&f)
			if err != nil {
				return err
			}
			// Self-check: the container must round-trip.
			if _, err := wbp.ParseRules(data); err != nil {
				return fmt.Errorf("built container failed validation: %w", err)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("%s: %d bytes, crc32 %d (0x%08X)\n", out, len(data), wbp.CRC32(data), wbp.CRC32(data))
			return nil
		},
	}
	build.Flags().StringVarP(&out, "output", "o", "rules.wbp", "output file")

	inspect := &cobra.Command{
		Use:   "inspect <rules.wbp>",
		Short: "parse a container and print its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rs, err := wbp.ParseRules(data)
			if err != nil {
				return err
			}
			fmt.Printf("signals=%d conditions=%d actions=%d rules=%d crc32=0x%08X\n",
				len(rs.Signals), len(rs.Conditions), len(rs.Actions), len(rs.Rules), rs.CRC)
			for i, s := range rs.Signals {
				fmt.Printf("  signal %d: id=0x%X start=%d len=%d be=%v signed=%v factor=%g offset=%g\n",
					i, s.CanID, s.StartBit, s.BitLength, s.BigEndian, s.Signed, s.Factor, s.Offset)
			}
			for i, r := range rs.Rules {
				fmt.Printf("  rule %d (%s): mask=0x%X actions=[%d,%d) debounce=%dms cooldown=%dms\n",
					i, r.FlowID, r.ConditionMask, r.ActionStart, r.ActionStart+r.ActionCount,
					r.DebounceMS, r.CooldownMS)
			}
			return nil
		},
	}

	root.AddCommand(build, inspect)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
