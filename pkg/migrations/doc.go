// Package migrations models upgrades as plans: chains of named states joined
// by steps, each step carrying an action.
//
// A Plan is built with AddStep, which rejects branching (two steps leaving
// the same state) and cycles. The Executor walks a plan from a persisted state:
//
//	plan := migrations.NewPlan("Forms", migrations.NoState)
//	plan.MustAddStep(migrations.NoState, "forms-1", createTables)
//	plan.MustAddStep("forms-1", "forms-2", seedData)
//
//	upgrader := migrations.NewUpgrader(plan, migrations.NewExecutor(logger), store)
//	result, err := upgrader.Run(ctx)
//
// Progress is persisted under StateKey(plan.Name()) after every step, inside
// the same atomic block as the step's action, so an interrupted upgrade
// resumes from the last completed step. Running an up-to-date plan is a
// no-op.
package migrations
