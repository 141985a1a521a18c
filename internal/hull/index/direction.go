package index

type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

var Axes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "?"
}

// Direction is one of the six axis-aligned face orientations. Even values
// point towards +axis, odd values towards -axis.
type Direction uint8

const (
	PosX Direction = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

const DirectionCount = 6

var Directions = [DirectionCount]Direction{PosX, NegX, PosY, NegY, PosZ, NegZ}

func (d Direction) Axis() Axis          { return Axis(d / 2) }
func (d Direction) Positive() bool      { return d%2 == 0 }
func (d Direction) Opposite() Direction { return d ^ 1 }
func (d Direction) Valid() bool         { return d < DirectionCount }

// Towards returns the direction pointing to the positive or negative side of a.
func Towards(a Axis, positive bool) Direction {
	if positive {
		return Direction(a * 2)
	}
	return Direction(a*2 + 1)
}

func (d Direction) String() string {
	switch d {
	case PosX:
		return "+x"
	case NegX:
		return "-x"
	case PosY:
		return "+y"
	case NegY:
		return "-y"
	case PosZ:
		return "+z"
	case NegZ:
		return "-z"
	}
	return "?"
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range Directions {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}
