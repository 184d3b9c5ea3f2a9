package approval

// RequiredGates derives the gate list for a request. Pure: the same
// (requestType, target, snapshot) always yields the same ordered list.
func RequiredGates(requestType RequestType, target Target, snapshot Snapshot) []Gate {
	switch requestType {
	case ClaimOwnership:
		gates := []Gate{{Name: GateSysAdmin, MinApprovals: 1}}
		if snapshot.ManagerID != "" {
			gates = append(gates, Gate{Name: GateLineManager, MinApprovals: 1})
		}
		return gates
	case TransferOwnership:
		return []Gate{
			{Name: GateCurrentOwner, MinApprovals: 1},
			{Name: GateSysAdmin, MinApprovals: 1},
		}
	case ShareGrant:
		return []Gate{{Name: GateCurrentOwner, MinApprovals: 1}}
	case LifecycleRetire:
		return []Gate{
			{Name: GateCurrentOwner, MinApprovals: 1},
			{Name: GateSysAdmin, MinApprovals: 1},
		}
	default:
		return []Gate{{Name: GateSysAdmin, MinApprovals: 1}}
	}
}
